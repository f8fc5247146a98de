package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method selects the lot consumption order for an allocation run. The zero
// value is not a valid method.
type Method uint8

const (
	MethodFIFO Method = iota + 1
	MethodLIFO
)

func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIFO":
		return MethodFIFO, nil
	case "LIFO":
		return MethodLIFO, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAllocationMethod, s)
	}
}

func (m Method) String() string {
	switch m {
	case MethodFIFO:
		return "FIFO"
	case MethodLIFO:
		return "LIFO"
	default:
		return "Unknown"
	}
}

func (m Method) Valid() bool {
	return m == MethodFIFO || m == MethodLIFO
}

func (m Method) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAllocationMethod, m)
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// AllocationResult records one draw of an order against a lot. Results are
// append-only.
type AllocationResult struct {
	ID                string
	RunID             string
	OrderID           string
	ItemCode          string
	LotID             string
	AllocatedQuantity int
	UnitPrice         decimal.Decimal
	AllocatedPrice    decimal.Decimal
	Method            Method
	AllocationDate    time.Time
}

type AllocationRun struct {
	ID          string
	Method      Method
	ExecutedAt  time.Time
	ResultCount int
}

// ResultFilter narrows result listings. Empty fields match everything.
type ResultFilter struct {
	OrderID  string
	ItemCode string
	LotID    string
	RunID    string
	Method   Method
	Limit    int
}

func (f ResultFilter) Match(r AllocationResult) bool {
	if f.OrderID != "" && r.OrderID != f.OrderID {
		return false
	}
	if f.ItemCode != "" && r.ItemCode != f.ItemCode {
		return false
	}
	if f.LotID != "" && r.LotID != f.LotID {
		return false
	}
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Method != 0 && r.Method != f.Method {
		return false
	}
	return true
}
