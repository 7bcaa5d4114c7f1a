package visual

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

type (
	// Screenshotter captures a full-page image. Browser sessions satisfy it
	Screenshotter interface {
		Screenshot(ctx context.Context) ([]byte, error)
	}

	// Comparator diffs screenshots against stored baselines
	Comparator struct {
		store     *ArtifactStore
		threshold float64
	}

	// Result is the outcome of one comparison. Paths are artifact keys
	Result struct {
		BaselinePath    string `json:"baseline_path"`
		ActualPath      string `json:"actual_path,omitempty"`
		DiffPath        string `json:"diff_path,omitempty"`
		DiffPixels      int    `json:"diff_pixels"`
		Match           bool   `json:"match"`
		BaselineCreated bool   `json:"baseline_created,omitempty"`
	}
)

const DefaultThreshold = 0.1

var (
	ErrInvalidSnapshotName = errors.New("invalid snapshot name")
	ErrNoActual            = errors.New("no actual screenshot to approve")
	ErrDecodeImage         = errors.New("image decode failed")
)

// NewComparator creates a comparator over store with a per-pixel threshold
// between 0 and 1. Out of range thresholds use DefaultThreshold
func NewComparator(store *ArtifactStore, threshold float64) *Comparator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Comparator{
		store:     store,
		threshold: threshold,
	}
}

// Compare captures a screenshot and checks it against the baseline for
// name. The first capture for a name becomes its baseline and matches.
// A mismatch stores the actual and diff images; a match stores nothing
func (c *Comparator) Compare(
	ctx context.Context, src Screenshotter, name string,
) (*Result, error) {
	name, err := snapshotName(name)
	if err != nil {
		return nil, err
	}

	shot, err := src.Screenshot(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{BaselinePath: BaselineKey(name)}
	baseline, err := c.store.Get(ctx, res.BaselinePath)
	if errors.Is(err, ErrArtifactNotFound) {
		if err := c.store.Put(ctx, res.BaselinePath, shot); err != nil {
			return nil, err
		}
		slog.Info("Visual baseline created", slog.String("snapshot", name))
		res.Match = true
		res.BaselineCreated = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	baseImg, err := decodePNG(baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline %s: %w", name, err)
	}
	shotImg, err := decodePNG(shot)
	if err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", name, err)
	}

	count, diffImg, err := Diff(baseImg, shotImg, c.threshold)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", name, err)
	}
	res.DiffPixels = count
	if count == 0 {
		res.Match = true
		return res, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, diffImg); err != nil {
		return nil, err
	}
	res.ActualPath = ActualKey(name)
	res.DiffPath = DiffKey(name)
	if err := c.store.Put(ctx, res.ActualPath, shot); err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, res.DiffPath, buf.Bytes()); err != nil {
		return nil, err
	}

	slog.Info("Visual mismatch",
		slog.String("snapshot", name),
		slog.Int("diff_pixels", count))
	return res, nil
}

// Approve promotes the latest actual screenshot for name to be its
// baseline and clears the actual and diff artifacts
func (c *Comparator) Approve(ctx context.Context, name string) error {
	name, err := snapshotName(name)
	if err != nil {
		return err
	}
	actual, err := c.store.Get(ctx, ActualKey(name))
	if errors.Is(err, ErrArtifactNotFound) {
		return fmt.Errorf("%w: %s", ErrNoActual, name)
	}
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, BaselineKey(name), actual); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, DiffKey(name)); err != nil {
		slog.Warn("Failed to delete diff artifact",
			slog.String("snapshot", name),
			log.Error(err))
	}
	if err := c.store.Delete(ctx, ActualKey(name)); err != nil {
		return err
	}
	slog.Info("Visual baseline approved", slog.String("snapshot", name))
	return nil
}

func snapshotName(name string) (string, error) {
	res := api.SanitizeID(name)
	if res == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSnapshotName, name)
	}
	return res, nil
}

func decodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeImage, err)
	}
	return img, nil
}
