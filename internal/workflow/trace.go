package workflow

// maxTraceHops bounds backward traces so that a link cycle in a malformed
// graph cannot loop forever.
const maxTraceHops = 20

// traceSource walks a single input connection backwards from startID.
//
// At each hop, if the current node's type is in stopAt the trace returns
// that node. Otherwise it follows the named input to its source node; a
// node whose input is unconnected (or a literal) terminates the trace and
// is returned itself. Returns nil when the start node does not exist or
// the hop budget is exhausted.
func (d *Document) traceSource(startID, inputName string, stopAt map[string]bool) *Node {
	currentID := startID
	for hop := 0; hop < maxTraceHops; hop++ {
		node := d.nodes[currentID]
		if node == nil {
			return nil
		}
		if stopAt != nil && stopAt[node.Type] {
			return node
		}
		source := d.inputSource(node, inputName)
		if source == nil {
			return node
		}
		if source.ID == "" {
			return node
		}
		currentID = source.ID
	}
	return nil
}
