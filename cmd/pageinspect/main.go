package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/btreebase/btreebase/internal/pkg/logging"
	"github.com/btreebase/btreebase/internal/pkg/page"
	"github.com/btreebase/btreebase/internal/pkg/pager"
)

// pageinspect walks a page file and prints every page's header bookkeeping,
// reporting pages whose magic marker or offsets do not check out.

type envVars struct {
	LogLevel       string `split_words:"true" default:"info"`
	MaxCachedPages int    `split_words:"true" default:"1000"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <page file>\n", os.Args[0])
		os.Exit(2)
	}

	var env envVars
	envconfig.MustProcess("pageinspect", &env)

	logger, err := logging.NewLogger(env.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	if err := inspect(context.Background(), os.Args[1], env, logger); err != nil {
		logger.Fatal("inspect failed", zap.Error(err))
	}
}

func inspect(ctx context.Context, path string, env envVars, logger *zap.Logger) error {
	aPager, err := pager.Open(afero.NewOsFs(), path, env.MaxCachedPages, logger)
	if err != nil {
		return err
	}
	defer aPager.Close()

	totalPages := aPager.TotalPages()
	fmt.Printf("%s: %d pages of %d bytes\n", path, totalPages, page.Size)

	corrupted := 0
	for pageID := page.PageID(1); uint64(pageID) <= totalPages; pageID++ {
		aPage, err := aPager.GetPage(ctx, pageID)
		if err != nil {
			if errors.Is(err, page.ErrInvalidMagic) || errors.Is(err, page.ErrCorruptHeader) {
				corrupted++
				fmt.Printf("page %d: CORRUPT: %v\n", pageID, err)
				continue
			}
			return err
		}
		printPage(pageID, aPage)
	}

	if corrupted > 0 {
		return fmt.Errorf("%d of %d pages corrupt", corrupted, totalPages)
	}
	return nil
}

func printPage(pageID page.PageID, aPage *page.Page) {
	overflow := "none"
	if overflowID, ok := aPage.OverflowPage().Get(); ok {
		overflow = fmt.Sprintf("%d", overflowID)
	}

	fmt.Printf("page %d: kind=%s cells=%d free=%d lower=%d upper=%d flags=%#04x overflow=%s\n",
		pageID,
		kindName(aPage.Kind()),
		aPage.CellsCount(),
		aPage.FreeSpace(),
		aPage.LowerOffset(),
		aPage.UpperOffset(),
		aPage.Flags(),
		overflow,
	)

	for i := 0; i < aPage.CellsCount(); i++ {
		aCell, err := aPage.NthCell(i)
		if err != nil {
			fmt.Printf("  cell %d: %v\n", i, err)
			continue
		}
		fmt.Printf("  cell %d: %d bytes\n", i, len(aCell))
	}
}

func kindName(k page.Kind) string {
	switch k {
	case page.KeyPage:
		return "key"
	case page.KeyValuePage:
		return "key-value"
	default:
		return "unknown"
	}
}
