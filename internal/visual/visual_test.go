package visual_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/marionette/internal/visual"

	_ "gocloud.dev/blob/memblob"
)

type shot []byte

func (s *shot) Screenshot(context.Context) ([]byte, error) {
	return *s, nil
}

func TestFirstCompareCreatesBaseline(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	cmp := visual.NewComparator(store, 0.1)

	src := shot(solidPNG(t, 4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	res, err := cmp.Compare(ctx, &src, "home")
	require.NoError(t, err)

	assert.True(t, res.Match)
	assert.True(t, res.BaselineCreated)
	assert.Equal(t, "baseline/home.png", res.BaselinePath)
	assert.Empty(t, res.DiffPath)

	exists, err := store.Exists(ctx, visual.BaselineKey("home"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, visual.DiffKey("home"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCompareIdempotentAfterBaseline(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	cmp := visual.NewComparator(store, 0.1)

	src := shot(solidPNG(t, 8, 8, color.NRGBA{R: 200, A: 255}))
	for range 3 {
		res, err := cmp.Compare(ctx, &src, "page")
		require.NoError(t, err)
		assert.True(t, res.Match)
	}

	for _, key := range []string{
		visual.DiffKey("page"), visual.ActualKey("page"),
	} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}
}

func TestCompareMismatchWritesArtifacts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	cmp := visual.NewComparator(store, 0.1)

	base := shot(solidPNG(t, 4, 4, color.NRGBA{A: 255}))
	_, err := cmp.Compare(ctx, &base, "Login Page")
	require.NoError(t, err)

	changed := shot(solidPNG(t, 4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	res, err := cmp.Compare(ctx, &changed, "Login Page")
	require.NoError(t, err)

	assert.False(t, res.Match)
	assert.Equal(t, 16, res.DiffPixels)
	assert.Equal(t, "diffs/login-page.diff.png", res.DiffPath)
	assert.Equal(t, "actual/login-page.png", res.ActualPath)

	diff, err := store.Get(ctx, res.DiffPath)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(diff))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	cmp := visual.NewComparator(store, 0.1)

	assert.ErrorIs(t, cmp.Approve(ctx, "nothing"), visual.ErrNoActual)

	base := shot(solidPNG(t, 2, 2, color.NRGBA{A: 255}))
	_, err := cmp.Compare(ctx, &base, "cart")
	require.NoError(t, err)

	changed := shot(solidPNG(t, 2, 2, color.NRGBA{B: 255, A: 255}))
	res, err := cmp.Compare(ctx, &changed, "cart")
	require.NoError(t, err)
	require.False(t, res.Match)

	require.NoError(t, cmp.Approve(ctx, "cart"))

	baseline, err := store.Get(ctx, visual.BaselineKey("cart"))
	require.NoError(t, err)
	assert.Equal(t, []byte(changed), baseline)

	_, err = store.Get(ctx, visual.DiffKey("cart"))
	assert.ErrorIs(t, err, visual.ErrArtifactNotFound)
	_, err = store.Get(ctx, visual.ActualKey("cart"))
	assert.ErrorIs(t, err, visual.ErrArtifactNotFound)

	res, err = cmp.Compare(ctx, &changed, "cart")
	require.NoError(t, err)
	assert.True(t, res.Match)
}

func TestCompareInvalidName(t *testing.T) {
	cmp := visual.NewComparator(openStore(t), 0.1)
	src := shot(nil)
	_, err := cmp.Compare(context.Background(), &src, "!!!")
	assert.ErrorIs(t, err, visual.ErrInvalidSnapshotName)
}

func TestCompareCorruptScreenshot(t *testing.T) {
	ctx := context.Background()
	cmp := visual.NewComparator(openStore(t), 0.1)

	good := shot(solidPNG(t, 2, 2, color.NRGBA{A: 255}))
	_, err := cmp.Compare(ctx, &good, "x")
	require.NoError(t, err)

	bad := shot([]byte("not a png"))
	_, err = cmp.Compare(ctx, &bad, "x")
	assert.ErrorIs(t, err, visual.ErrDecodeImage)
}

func TestDiff(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	b := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := range 2 {
		for x := range 3 {
			a.SetNRGBA(x, y, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
			b.SetNRGBA(x, y, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
		}
	}

	count, out, err := visual.Diff(a, b, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 3, out.Bounds().Dx())

	b.SetNRGBA(1, 1, color.NRGBA{R: 101, G: 100, B: 100, A: 255})
	count, _, err = visual.Diff(a, b, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "below threshold")

	b.SetNRGBA(2, 0, color.NRGBA{R: 255, A: 255})
	count, out, err = visual.Diff(a, b, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(2, 0))
}

func TestDiffOffsetBounds(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	b := image.NewNRGBA(image.Rect(5, 5, 7, 7))
	for y := range 2 {
		for x := range 2 {
			c := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
			a.SetNRGBA(x, y, c)
			b.SetNRGBA(x+5, y+5, c)
		}
	}

	count, _, err := visual.Diff(a, b, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDiffSizeMismatch(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	b := image.NewNRGBA(image.Rect(0, 0, 3, 2))

	count, out, err := visual.Diff(a, b, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 3, out.Bounds().Dx())
}

func openStore(t *testing.T) *visual.ArtifactStore {
	t.Helper()
	store, err := visual.OpenArtifactStore(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
