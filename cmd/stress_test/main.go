package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-allocation/internal/adapter/storage"
	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/service"
)

const (
	itemCount      = 5
	lotsPerItem    = 4
	lotQuantity    = 25
	ordersPerItem  = 40
	orderQuantity  = 3
	allocationRuns = 50
	queueSize      = 100
)

func main() {
	ctx := context.Background()

	db := storage.NewMemoryAdapter()
	intake := service.NewIntakeService(db, nil)
	allocationService := service.NewAllocationService(db, storage.NewMemoryLocker(), queueSize)

	// Drain the report queue in background
	var published atomic.Int32
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range allocationService.Reports() {
			published.Add(1)
		}
	}()

	// Seed items and inventory
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < itemCount; i++ {
		code := fmt.Sprintf("item-%d", i)
		if _, err := intake.RegisterItem(ctx, code, "stress"); err != nil {
			log.Fatalf("failed to register item: %v", err)
		}
		for l := 0; l < lotsPerItem; l++ {
			if _, err := intake.ReceiveLot(ctx, code, lotQuantity, base.AddDate(0, 0, l), decimal.NewFromInt(int64(l+1))); err != nil {
				log.Fatalf("failed to receive lot: %v", err)
			}
		}
	}

	// Counters
	var runCount, failCount atomic.Int32

	// Submit orders while allocation runs execute
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < itemCount*ordersPerItem; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := intake.SubmitOrder(ctx, "", fmt.Sprintf("item-%d", n%itemCount), orderQuantity); err != nil {
				failCount.Add(1)
			}
		}(i)
	}
	for i := 0; i < allocationRuns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			method := domain.MethodFIFO
			if n%2 == 1 {
				method = domain.MethodLIFO
			}
			plan, err := allocationService.Allocate(ctx, "", method)
			if err != nil {
				failCount.Add(1)
				return
			}
			if !plan.Empty() {
				runCount.Add(1)
			}
		}(i)
	}

	wg.Wait()

	// One more pass picks up orders submitted after the last run
	if _, err := allocationService.Allocate(ctx, "", domain.MethodFIFO); err != nil {
		failCount.Add(1)
	}
	elapsed := time.Since(start)

	allocationService.Close()
	<-drained

	lots, orders, results := db.Dump()
	perLot := make(map[string]int)
	perOrder := make(map[string]int)
	for _, r := range results {
		perLot[r.LotID] += r.AllocatedQuantity
		perOrder[r.OrderID] += r.AllocatedQuantity
	}

	var lotViolations, orderViolations, allocated int
	for _, l := range lots {
		if l.RemainingQuantity < 0 || l.ReceivedQuantity-l.RemainingQuantity != perLot[l.ID] {
			lotViolations++
		}
	}
	for _, o := range orders {
		allocated += o.AllocatedQuantity
		if o.AllocatedQuantity > o.RequestedQuantity || o.AllocatedQuantity != perOrder[o.ID] ||
			o.Status != domain.StatusFor(o.RequestedQuantity, o.AllocatedQuantity) {
			orderViolations++
		}
	}

	totalStock := itemCount * lotsPerItem * lotQuantity
	totalDemand := itemCount * ordersPerItem * orderQuantity
	expected := min(totalStock, totalDemand)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Stock:       %d\n", totalStock)
	fmt.Printf("Total Demand:      %d\n", totalDemand)
	fmt.Printf("Committed Runs:    %d\n", runCount.Load())
	fmt.Printf("Published Reports: %d\n", published.Load())
	fmt.Printf("Results:           %d\n", len(results))
	fmt.Printf("Allocated Units:   %d\n", allocated)
	fmt.Printf("Failed Calls:      %d\n", failCount.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if lotViolations == 0 && orderViolations == 0 {
		fmt.Println("PASS: No lot or order was over-allocated")
	} else {
		fmt.Printf("FAIL: %d lot and %d order violations\n", lotViolations, orderViolations)
	}

	if allocated == expected {
		fmt.Printf("PASS: Allocated %d units\n", allocated)
	} else {
		fmt.Printf("FAIL: Expected %d units allocated, got %d\n", expected, allocated)
	}

	if failCount.Load() == 0 {
		fmt.Println("PASS: No call failed")
	} else {
		fmt.Printf("FAIL: %d calls failed\n", failCount.Load())
	}
}
