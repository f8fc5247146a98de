package service_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-allocation/internal/adapter/storage"
	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/core/service"
)

type allocationTestContext struct {
	intake *service.IntakeService
	alloc  *service.AllocationService
	report *service.ReportService
	lots   map[string]string // label -> lot ID
	plan   *engine.Plan
	err    error
}

func (c *allocationTestContext) reset() {
	db := storage.NewMemoryAdapter()
	c.intake = service.NewIntakeService(db, nil)
	c.alloc = service.NewAllocationService(db, storage.NewMemoryLocker(), 0)
	c.report = service.NewReportService(db)
	c.lots = make(map[string]string)
	c.plan = nil
	c.err = nil
}

func (c *allocationTestContext) itemIsRegistered(code string) error {
	_, err := c.intake.RegisterItem(context.Background(), code, "")
	return err
}

func (c *allocationTestContext) itemHasALotReceivedOnDay(code, label string, qty, day int) error {
	received := time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
	lot, err := c.intake.ReceiveLot(context.Background(), code, qty, received, decimal.NewFromInt(1))
	if err != nil {
		return err
	}
	c.lots[label] = lot.ID
	return nil
}

func (c *allocationTestContext) orderIsSubmitted(id string, qty int, code string) error {
	_, err := c.intake.SubmitOrder(context.Background(), id, code, qty)
	return err
}

func (c *allocationTestContext) iRunAnAllocation(method string) error {
	m, err := domain.ParseMethod(method)
	if err != nil {
		c.plan, c.err = nil, err
		return nil
	}
	c.plan, c.err = c.alloc.Allocate(context.Background(), "", m)
	return nil
}

func (c *allocationTestContext) theRunSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected run to succeed, got %v", c.err)
	}
	return nil
}

func (c *allocationTestContext) theRunFailsWith(substring string) error {
	if c.err == nil {
		return errors.New("expected run to fail but it succeeded")
	}
	if !strings.Contains(c.err.Error(), substring) {
		return fmt.Errorf("expected error to contain %q, got %q", substring, c.err.Error())
	}
	return nil
}

func (c *allocationTestContext) theRunProducedNoResults() error {
	if c.plan == nil {
		return errors.New("no run was executed")
	}
	if len(c.plan.Results) != 0 {
		return fmt.Errorf("expected no results, got %d", len(c.plan.Results))
	}
	return nil
}

// theResultsForOrderAre compares every committed result of the order, across
// all runs, in creation order.
func (c *allocationTestContext) theResultsForOrderAre(orderID string, table *godog.Table) error {
	results, err := c.report.ListResults(context.Background(), domain.ResultFilter{OrderID: orderID})
	if err != nil {
		return err
	}

	rows := table.Rows[1:]
	if len(results) != len(rows) {
		return fmt.Errorf("expected %d results for %s, got %d", len(rows), orderID, len(results))
	}
	for i, row := range rows {
		label := row.Cells[0].Value
		qty, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		if results[i].LotID != c.lots[label] {
			return fmt.Errorf("result %d: expected lot %s, got %s", i, label, results[i].LotID)
		}
		if results[i].AllocatedQuantity != qty {
			return fmt.Errorf("result %d: expected quantity %d, got %d", i, qty, results[i].AllocatedQuantity)
		}
	}
	return nil
}

func (c *allocationTestContext) orderIs(orderID, status string) error {
	order, err := c.report.GetOrder(context.Background(), orderID)
	if err != nil {
		return err
	}
	if string(order.Status) != status {
		return fmt.Errorf("expected order %s to be %s, got %s", orderID, status, order.Status)
	}
	return nil
}

func (c *allocationTestContext) orderHasOutstanding(orderID string, qty int) error {
	order, err := c.report.GetOrder(context.Background(), orderID)
	if err != nil {
		return err
	}
	if order.Outstanding() != qty {
		return fmt.Errorf("expected %d outstanding on %s, got %d", qty, orderID, order.Outstanding())
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &allocationTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^item "([^"]*)" is registered$`, tc.itemIsRegistered)
	ctx.Step(`^item "([^"]*)" has a lot "([^"]*)" of (\d+) received on day (\d+)$`, tc.itemHasALotReceivedOnDay)
	ctx.Step(`^order "([^"]*)" for (\d+) of "([^"]*)" is submitted$`, tc.orderIsSubmitted)

	// When steps
	ctx.Step(`^I run an? (\w+) allocation$`, tc.iRunAnAllocation)

	// Then steps
	ctx.Step(`^the run succeeds$`, tc.theRunSucceeds)
	ctx.Step(`^the run fails with "([^"]*)"$`, tc.theRunFailsWith)
	ctx.Step(`^the run produced no results$`, tc.theRunProducedNoResults)
	ctx.Step(`^the results for order "([^"]*)" are:$`, tc.theResultsForOrderAre)
	ctx.Step(`^order "([^"]*)" is (\w+)$`, tc.orderIs)
	ctx.Step(`^order "([^"]*)" has (\d+) outstanding$`, tc.orderHasOutstanding)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
