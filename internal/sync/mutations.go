package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// Mutation errors handlers map to client-facing status codes.
var (
	ErrInvalidName  = errors.New("invalid filename")
	ErrTargetExists = errors.New("target already exists")
	ErrOutsideRoot  = errors.New("path outside media directory")
)

const maxNameLength = 250

var invalidNameChars = regexp.MustCompile(`[\\/:"*?<>|]`)

// MarkFavorites sets the favorite flag on the given file ids.
func (e *Engine) MarkFavorites(ctx context.Context, ids []string, favorite bool) (int64, error) {
	return e.db.MarkFavorites(ctx, ids, favorite)
}

// RenameFile renames a file in place. The extension is preserved when
// the new name carries none. The filesystem rename happens before the
// index update, so a failed rename leaves the index untouched.
func (e *Engine) RenameFile(ctx context.Context, fileID, newName string) (*database.FileRecord, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" || len(newName) > maxNameLength {
		return nil, fmt.Errorf("%w: empty or too long", ErrInvalidName)
	}
	if invalidNameChars.MatchString(newName) || strings.Contains(newName, "..") {
		return nil, fmt.Errorf("%w: forbidden characters", ErrInvalidName)
	}

	file, err := e.db.GetFileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if filepath.Ext(newName) == "" {
		newName += filepath.Ext(file.Name)
	}
	if newName == file.Name {
		return nil, fmt.Errorf("%w: name unchanged", ErrInvalidName)
	}

	newPath := filepath.Join(filepath.Dir(file.Path), newName)
	if !e.contains(newPath) {
		return nil, ErrOutsideRoot
	}
	if _, err := os.Stat(newPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetExists, newName)
	}

	if err := os.Rename(file.Path, newPath); err != nil {
		return nil, fmt.Errorf("renaming file: %w", err)
	}

	newID := database.FileID(newPath)
	if err := e.db.UpdateIdentity(ctx, fileID, newID, newPath, newName); err != nil {
		return nil, err
	}
	if e.thumbs != nil {
		e.thumbs.Remove(file.Path, file.MTime)
	}

	file.ID = newID
	file.Path = newPath
	file.Name = newName
	return file, nil
}

// MoveResult summarizes a batch move.
type MoveResult struct {
	Moved   int      `json:"moved"`
	Renamed int      `json:"renamed"`
	Failed  []string `json:"failed,omitempty"`
}

// MoveFiles moves the given files into destFolder. Name collisions get
// a "(n)" suffix. A source missing from disk has its index row removed.
// Failures are per-file; the rest of the batch proceeds.
func (e *Engine) MoveFiles(ctx context.Context, ids []string, destFolder string) (*MoveResult, error) {
	destFolder = filepath.Clean(destFolder)
	if !e.contains(destFolder) {
		return nil, ErrOutsideRoot
	}
	if info, err := os.Stat(destFolder); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("destination folder %s is not accessible", destFolder)
	}

	result := &MoveResult{}
	for _, id := range ids {
		file, err := e.db.GetFileByID(ctx, id)
		if err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("id %s not found", id))
			continue
		}

		if _, err := os.Stat(file.Path); err != nil {
			// Gone from disk; the index row is stale either way.
			if _, derr := e.db.DeleteByIDs(ctx, []string{id}); derr != nil {
				logging.Warn("Could not drop stale row for %s: %v", file.Path, derr)
			}
			result.Failed = append(result.Failed, fmt.Sprintf("%s (not found on disk)", file.Name))
			continue
		}

		destPath := uniqueDestPath(destFolder, file.Name)
		destName := filepath.Base(destPath)
		if destName != file.Name {
			result.Renamed++
		}

		if err := moveFile(file.Path, destPath); err != nil {
			result.Failed = append(result.Failed, file.Name)
			logging.Error("Failed to move %s: %v", file.Path, err)
			continue
		}

		newID := database.FileID(destPath)
		if err := e.db.UpdateIdentity(ctx, id, newID, destPath, destName); err != nil {
			result.Failed = append(result.Failed, file.Name)
			logging.Error("Moved %s but could not update index: %v", file.Path, err)
			continue
		}
		if e.thumbs != nil {
			e.thumbs.Remove(file.Path, file.MTime)
		}
		result.Moved++
	}
	return result, nil
}

// DeleteResult summarizes a batch delete.
type DeleteResult struct {
	Deleted int      `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
}

// DeleteFiles removes files from disk, their cached thumbnails, and
// their index rows. A file already gone from disk still has its row
// removed, which is the state the caller asked for.
func (e *Engine) DeleteFiles(ctx context.Context, ids []string) (*DeleteResult, error) {
	result := &DeleteResult{}
	var deletable []string

	for _, id := range ids {
		file, err := e.db.GetFileByID(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			return nil, err
		}

		if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
			result.Failed = append(result.Failed, file.Name)
			logging.Error("Could not delete %s: %v", file.Path, err)
			continue
		}
		if e.thumbs != nil {
			e.thumbs.Remove(file.Path, file.MTime)
		}
		deletable = append(deletable, id)
		result.Deleted++
	}

	if len(deletable) > 0 {
		if _, err := e.db.DeleteByIDs(ctx, deletable); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// uniqueDestPath appends "(n)" to the base name until the path is free.
func uniqueDestPath(folder, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	path := filepath.Join(folder, name)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(folder, fmt.Sprintf("%s(%d)%s", base, counter, ext))
	}
}

// moveFile renames, falling back to copy-and-remove across devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
