package main

import (
	"context"
	"fmt"
	"log"

	"github.com/maplebid/rfp-finder/internal/store"
)

func main() {
	ctx := context.Background()
	pool, err := store.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var total int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM opportunities").Scan(&total); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Total opportunities: %d\n", total)

	rows, err := pool.Query(ctx, `
		SELECT source, status, count(*)
		FROM opportunities
		GROUP BY source, status
		ORDER BY source, status
	`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source, status string
		var count int
		if err := rows.Scan(&source, &status, &count); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		fmt.Printf("  %s / %s: %d\n", source, status, count)
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Iterate failed: %v", err)
	}

	var cached int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM attachment_cache").Scan(&cached); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Cached attachment extractions: %d\n", cached)
}
