// archive prints a summary of the alert archive and the largest alerts in a window.
//
// Usage: archive [lookback] [limit]   e.g. archive 24h 20
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalebot/internal/database"
	"github.com/web3guy0/whalebot/internal/formatter"
)

func main() {
	godotenv.Load()

	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		fmt.Println("❌ DATABASE_PATH not set")
		os.Exit(1)
	}

	lookback := 24 * time.Hour
	if len(os.Args) > 1 {
		d, err := time.ParseDuration(os.Args[1])
		if err != nil {
			fmt.Printf("❌ Invalid lookback %q: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		lookback = d
	}
	limit := 20
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n <= 0 {
			fmt.Printf("❌ Invalid limit %q\n", os.Args[2])
			os.Exit(1)
		}
		limit = n
	}

	fmt.Println("🔌 Opening archive...")
	archive, err := database.New(path)
	if err != nil {
		fmt.Printf("❌ Open error: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := archive.Stats(ctx)
	if err != nil {
		fmt.Printf("❌ Stats error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n📊 ARCHIVE - Total alerts: %v\n", stats["total_alerts"])
	if usd, ok := stats["total_usd"].(decimal.Decimal); ok {
		fmt.Printf("   Total value: %s\n", formatter.FormatUSD(usd))
	}
	if byType, ok := stats["by_type"].(map[string]int64); ok {
		kinds := make([]string, 0, len(byType))
		for k := range byType {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("   %-9s %d\n", k, byType[k])
		}
	}

	alerts, err := archive.Since(ctx, time.Now().Add(-lookback), 0)
	if err != nil {
		fmt.Printf("❌ Query error: %v\n", err)
		os.Exit(1)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].USDValue > alerts[j].USDValue
	})
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}

	fmt.Printf("\n🐋 TOP %d IN LAST %s\n\n", len(alerts), lookback)
	if len(alerts) == 0 {
		fmt.Println("  (no alerts in window)")
		return
	}
	for _, a := range alerts {
		fmt.Printf("  %s %-8s %-10s %14s  %s\n",
			formatter.Icon(a.AlertType),
			a.AlertType,
			a.Chain,
			formatter.FormatUSD(decimal.NewFromFloat(a.USDValue)),
			a.TxHash,
		)
	}
}
