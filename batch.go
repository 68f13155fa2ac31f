package personsearch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/chaste10ve/person-search/config"
	"github.com/chaste10ve/person-search/proposal"
	"github.com/chaste10ve/person-search/tensor"
)

// GalleryItem is one scene image in a batched gallery run.
type GalleryItem struct {
	Image *tensor.Dense
	Boxes [][]float32
	Info  proposal.ImageInfo
}

// GalleryBatch runs gallery inference over many images concurrently.
// Results are index-aligned with items. The bank is read-only during
// inference, so the fan-out needs no additional locking; the first error
// cancels the remaining work.
func (n *Network) GalleryBatch(ctx context.Context, items []GalleryItem, norm config.BoxNormalization) ([]*GalleryResult, error) {
	results := make([]*GalleryResult, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, item := range items {
		g.Go(func() error {
			res, err := n.Gallery(ctx, item.Image, item.Boxes, item.Info, norm)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
