package casefs

import (
	"context"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// Stats summarizes an owner's storage usage.
type Stats struct {
	TotalStorage    int64  `json:"total_storage"`
	ReadableStorage string `json:"readable_storage"`
	FilesCount      int64  `json:"files_count"`
	FoldersCount    int64  `json:"folders_count"`
	TotalItems      int64  `json:"total_items"`
}

// Stats sums file sizes and counts files and folders for ownerID.
func (s *Service) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.database.SumFileSizes(gctx, ownerID)
		stats.TotalStorage = n
		return err
	})
	g.Go(func() error {
		n, err := s.database.CountFiles(gctx, ownerID)
		stats.FilesCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.database.CountFolders(gctx, ownerID)
		stats.FoldersCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, upstream("computing stats", err)
	}

	stats.TotalItems = stats.FilesCount + stats.FoldersCount
	stats.ReadableStorage = FormatBytes(stats.TotalStorage)
	return &stats, nil
}

var byteUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatBytes renders n in 1024-based units with at most two decimals,
// e.g. "0 Bytes", "1.5 KB", "10 MB". GB is the largest unit.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}
