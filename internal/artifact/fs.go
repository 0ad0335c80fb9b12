package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores artifacts under a directory root.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) Provider() string {
	return "fs"
}

func (s *FSStore) path(locator string) string {
	return filepath.Join(s.root, filepath.FromSlash(locator))
}

// ReadAll reads the artifact, honoring ctx so a slow disk or hung mount is
// bounded by the caller's per-artifact timeout.
func (s *FSStore) ReadAll(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := os.ReadFile(s.path(locator))
		ch <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if errors.Is(r.err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, locator)
		}
		if r.err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", locator, r.err)
		}
		return r.data, nil
	}
}

func (s *FSStore) Stat(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.path(locator))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, locator)
	}
	if err != nil {
		return fmt.Errorf("stat artifact %s: %w", locator, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotExist, locator)
	}
	return nil
}

func (s *FSStore) Write(ctx context.Context, locator string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(locator)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", locator, err)
	}
	return nil
}

func (s *FSStore) Remove(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(locator))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, locator)
	}
	if err != nil {
		return fmt.Errorf("remove artifact %s: %w", locator, err)
	}
	return nil
}

// Walk visits every regular file under the root, yielding slash-separated
// locators relative to it. A missing root is zero work.
func (s *FSStore) Walk(ctx context.Context, fn func(locator string) error) error {
	if _, err := os.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		return fn(strings.ReplaceAll(rel, string(filepath.Separator), "/"))
	})
}
