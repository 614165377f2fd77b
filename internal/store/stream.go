package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"FinStore/internal/domain/models"
)

// Stream calls fn for every record of name without materializing the record map. Records
// arrive in symbol order. fn may return an error to stop; that error is returned.
func (s *Store) Stream(ctx context.Context, name string, fn func(models.PredictionRecord) error) (models.Header, error) {
	r, err := s.lookup(name)
	if err != nil {
		return models.Header{}, err
	}

	f, err := os.Open(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Header{}, ErrAbsent
	}
	if err != nil {
		return models.Header{}, fmt.Errorf("open %s: %w", r.Path, err)
	}
	defer f.Close()

	h, err := decodeStream(ctx, f, nil, fn)
	if err != nil {
		return h, fmt.Errorf("stream %s: %w", name, err)
	}
	return h, nil
}

// Header reads only the header of name.
func (s *Store) Header(ctx context.Context, name string) (models.Header, error) {
	r, err := s.lookup(name)
	if err != nil {
		return models.Header{}, err
	}
	f, err := os.Open(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Header{}, ErrAbsent
	}
	if err != nil {
		return models.Header{}, fmt.Errorf("open %s: %w", r.Path, err)
	}
	defer f.Close()

	var h models.Header
	_, err = decodeStream(ctx, f, func(got models.Header) error {
		h = got
		return errStop
	}, nil)
	if err != nil && !errors.Is(err, errStop) {
		return h, fmt.Errorf("header %s: %w", name, err)
	}
	return h, nil
}
