/*
checker.go - Background balance-consistency checker

PURPOSE:
  Periodically sweeps all customers and verifies that the denormalized
  running balance matches the replayed ledger. The engine maintains the
  invariant transactionally; this checker exists to detect the bug class
  where the two copies diverge anyway, and to make the divergence loud.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A violation is logged with the full entry dump, never auto-corrected
  - Sweeps outside any transaction: a mismatch racing a concurrent writer
    is possible and shows up as a one-off; persistent mismatches are real

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 15 minutes)
  - Enabled: Whether the checker is active (default: true)

USAGE:
  checker := NewConsistencyChecker(service)
  checker.Start()
  // ... later
  checker.Stop()

SEE ALSO:
  - handlers.go: RunConsistencyCheck endpoint (on-demand sweep)
  - credit/statement.go: VerifyBalance
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/credit-engine/credit"
)

// ConsistencyChecker periodically verifies the balance invariant.
type ConsistencyChecker struct {
	Service       *credit.Service
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewConsistencyChecker creates a checker over the given service.
func NewConsistencyChecker(service *credit.Service) *ConsistencyChecker {
	return &ConsistencyChecker{
		Service:       service,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the background sweep.
func (cc *ConsistencyChecker) Start() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if !cc.Enabled {
		log.Println("[Checker] Disabled, not starting")
		return
	}

	cc.ticker = time.NewTicker(cc.CheckInterval)
	cc.wg.Add(1)

	go cc.run()

	log.Printf("[Checker] Started with check interval: %v", cc.CheckInterval)
}

// Stop stops the checker.
func (cc *ConsistencyChecker) Stop() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	// Stop may be called more than once (deferred shutdown paths); only the
	// first call tears the goroutine down.
	if cc.ticker != nil {
		cc.ticker.Stop()
		cc.ticker = nil
		close(cc.stop)
		cc.wg.Wait()
		log.Println("[Checker] Stopped")
	}
}

func (cc *ConsistencyChecker) run() {
	defer cc.wg.Done()

	// Run immediately on start
	cc.Sweep(context.Background())

	for {
		select {
		case <-cc.ticker.C:
			cc.Sweep(context.Background())
		case <-cc.stop:
			return
		}
	}
}

// Sweep verifies every customer once and returns the violation count.
func (cc *ConsistencyChecker) Sweep(ctx context.Context) int {
	customers, err := cc.Service.Store.ListCustomers(ctx)
	if err != nil {
		log.Printf("[Checker] Failed to list customers: %v", err)
		return 0
	}

	violations := 0
	for _, c := range customers {
		if err := cc.Service.VerifyBalance(ctx, c.ID); err != nil {
			violations++
			logInvariantViolation(ctx, cc.Service, c.ID, err)
		}
	}

	if violations > 0 {
		log.Printf("[Checker] Sweep done: %d customers checked, %d VIOLATIONS", len(customers), violations)
	} else {
		log.Printf("[Checker] Sweep done: %d customers checked, all consistent", len(customers))
	}
	return violations
}

// logInvariantViolation dumps the customer's full entry history alongside
// the violation so the divergence can be reconstructed from the log alone.
func logInvariantViolation(ctx context.Context, service *credit.Service, customerID credit.CustomerID, violation error) {
	log.Printf("[Checker] INVARIANT VIOLATION for customer %s: %v", customerID, violation)

	entries, err := service.Store.EntriesByCustomer(ctx, customerID, nil, nil)
	if err != nil {
		log.Printf("[Checker] could not dump entries for %s: %v", customerID, err)
		return
	}
	for _, e := range entries {
		log.Printf("[Checker]   entry %d: %s %s %s line=%s ref=%q at %s",
			e.ID, e.Kind, e.Direction, e.Amount, e.CreditLineID, e.Reference,
			e.OccurredAt.Format(time.RFC3339))
	}
}
