package backend

import (
	"context"
	"net/http"

	"github.com/example/musicd/internal/model"
)

// fetchTotalSizes HEADs every file in manifest to learn its Content-Length,
// for the overall-progress denominator reported during a download. Best
// effort: a file whose size can't be determined contributes 0 and the
// download proceeds regardless.
func fetchTotalSizes(ctx context.Context, manifest model.Manifest) (sizes map[string]int64, total int64) {
	sizes = make(map[string]int64, len(manifest.Files))
	client := &http.Client{}

	for _, f := range manifest.Files {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, model.FileURL(manifest.Repo, f), nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()

		if resp.ContentLength > 0 {
			sizes[f.Filename] = resp.ContentLength
			total += resp.ContentLength
		}
	}

	return sizes, total
}
