package core

import "context"

// Diff returns the keyed differences between the states two reference
// specs resolve to, in key order.
func (s *Store) Diff(ctx context.Context, fromSpec, toSpec string) ([]DiffEntry, error) {
	_, fromHead, err := s.resolveRef(ctx, fromSpec)
	if err != nil {
		return nil, err
	}
	_, toHead, err := s.resolveRef(ctx, toSpec)
	if err != nil {
		return nil, err
	}
	fromRoot, err := s.indexRootAt(ctx, fromHead)
	if err != nil {
		return nil, err
	}
	toRoot, err := s.indexRootAt(ctx, toHead)
	if err != nil {
		return nil, err
	}
	return s.diffRoots(ctx, fromRoot, toRoot)
}
