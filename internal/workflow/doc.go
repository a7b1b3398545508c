// Package workflow parses ComfyUI workflow graphs and extracts generation
// metadata (model, sampler, scheduler, prompts, dimensions, cfg, steps) for
// every sampler node in the graph.
//
// Two serializations are handled natively, without converting between them:
//
//   - The UI format: a "nodes" array plus a shared "links" table, with
//     widget values stored positionally per node.
//   - The API (prompt) format: a map of node id to class_type and named
//     inputs, where an input is either a literal or a [nodeID, slot] pair.
//
// Extraction walks the graph backwards from each sampler along a single
// input path. A missing field never aborts extraction of the others.
package workflow
