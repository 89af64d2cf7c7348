package main

import (
	"context"
	"time"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/loader"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
)

const cluster = "warehouse"

type stagedCustomer struct {
	entity.Fact
	Code    string `etl:"code,natural"`
	Name    string `etl:"name"`
	Segment string `etl:"segment"`
}

type stagedOrder struct {
	entity.Fact
	Ref          string    `etl:"ref,natural"`
	CustomerCode string    `etl:"customer_code"`
	Amount       float64   `etl:"amount"`
	OrderedAt    time.Time `etl:"ordered_at"`
}

type customer struct {
	entity.Dimension
	ID      int64  `etl:"id,key"`
	Code    string `etl:"code,natural"`
	Name    string `etl:"name"`
	Segment string `etl:"segment,type2"`
}

type order struct {
	entity.Fact
	ID           int64     `etl:"id,key"`
	Ref          string    `etl:"ref,natural"`
	CustomerCode string    `etl:"customer_code"`
	Amount       float64   `etl:"amount"`
	OrderedAt    time.Time `etl:"ordered_at"`
}

// sample pages through rows the way a paginated API would.
func sample[T any](rows func() []T) connector.Reader[T] {
	return connector.ReaderFunc[T](func(_ context.Context, params []connector.Parameter) ([]T, error) {
		all := rows()
		offset, _ := connector.Lookup(params, connector.ParamOffset)
		limit, _ := connector.Lookup(params, connector.ParamLimit)
		from, n := min(asInt(offset), len(all)), asInt(limit)
		if n <= 0 {
			n = len(all)
		}
		return all[from:min(from+n, len(all))], nil
	})
}

func asInt(v any) int {
	if n, ok := v.(int); ok {
		return n
	}
	return 0
}

func sampleCustomers() []*stagedCustomer {
	// Hollis moves segment every other day, which historizes the dimension.
	segment := "retail"
	if time.Now().YearDay()%2 == 0 {
		segment = "wholesale"
	}
	return []*stagedCustomer{
		{Code: "C001", Name: "Ada Hollis", Segment: segment},
		{Code: "C002", Name: "Brook & Sons", Segment: "wholesale"},
		{Code: "C003", Name: "Cato Pereira", Segment: "retail"},
	}
}

func sampleOrders() []*stagedOrder {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	return []*stagedOrder{
		{Ref: "O-1001", CustomerCode: "C001", Amount: 42.5, OrderedAt: day},
		{Ref: "O-1002", CustomerCode: "C002", Amount: 1250, OrderedAt: day},
		{Ref: "O-1003", CustomerCode: "C001", Amount: 9.99, OrderedAt: day.Add(time.Hour)},
		{Ref: "O-1004", CustomerCode: "C003", Amount: 18, OrderedAt: day.Add(2 * time.Hour)},
	}
}

// staging copies the sample feeds into staging tables.
func (w *warehouse) staging(ctx context.Context, env registry.Env) ([]*pipeline.Pipeline, error) {
	if err := w.open(ctx, env); err != nil {
		return nil, err
	}
	customers, err := stage(w, env, "stage_customers", "staging_customer", sample(sampleCustomers))
	if err != nil {
		return nil, err
	}
	orders, err := stage(w, env, "stage_orders", "staging_order", sample(sampleOrders))
	if err != nil {
		return nil, err
	}
	return []*pipeline.Pipeline{customers, orders}, nil
}

func stage[T entity.FactRow](w *warehouse, env registry.Env, name, tableName string, feed connector.Reader[T]) (*pipeline.Pipeline, error) {
	dest, err := table[T](w, tableName)
	if err != nil {
		return nil, err
	}
	l, err := loader.NewSnapshotFact[T](dest, loader.WithLogger(env.Logger))
	if err != nil {
		return nil, err
	}

	b := pipeline.New(name,
		pipeline.WithCluster(cluster),
		pipeline.WithTags("staging"),
		pipeline.WithDefaults(env.Config.Pipeline),
		pipeline.WithLogger(env.Logger))
	rows := pipeline.Extract(b, feed, pipeline.WithBatchSize(2), pipeline.WithOffsetPagination())
	pipeline.Load(pipeline.HashRows(rows), l)
	return b.Build()
}

// retail merges the staging tables into the customer dimension and the
// order fact.
func (w *warehouse) retail(ctx context.Context, env registry.Env) ([]*pipeline.Pipeline, error) {
	if err := w.open(ctx, env); err != nil {
		return nil, err
	}
	customers, err := w.customers(env)
	if err != nil {
		return nil, err
	}
	orders, err := w.orders(env)
	if err != nil {
		return nil, err
	}
	return []*pipeline.Pipeline{customers, orders}, nil
}

func (w *warehouse) customers(env registry.Env) (*pipeline.Pipeline, error) {
	staged, err := source[*stagedCustomer](w,
		"SELECT code, name, segment FROM staging_customer ORDER BY code LIMIT :limit OFFSET :offset")
	if err != nil {
		return nil, err
	}
	dest, err := table[*customer](w, "dim_customer")
	if err != nil {
		return nil, err
	}
	scd, err := loader.NewSlowlyChangingDimension[*customer](dest, loader.WithLogger(env.Logger))
	if err != nil {
		return nil, err
	}

	b := pipeline.New("customers",
		pipeline.WithCluster(cluster),
		pipeline.WithTags("retail", "dimension"),
		pipeline.WithDefaults(env.Config.Pipeline),
		pipeline.WithLogger(env.Logger))
	rows := pipeline.Extract(b, staged, pipeline.WithOffsetPagination())
	mapped := pipeline.TransformRows(rows, func(s *stagedCustomer) (*customer, error) {
		return &customer{Code: s.Code, Name: s.Name, Segment: s.Segment}, nil
	}, pipeline.WithName("to_customer"))
	pipeline.Load(pipeline.HashRows(mapped), scd, pipeline.WithSoftDeleteMissing())
	return b.Build()
}

func (w *warehouse) orders(env registry.Env) (*pipeline.Pipeline, error) {
	staged, err := source[*stagedOrder](w,
		"SELECT ref, customer_code, amount, ordered_at FROM staging_order ORDER BY ref LIMIT :limit OFFSET :offset")
	if err != nil {
		return nil, err
	}
	dest, err := table[*order](w, "fact_order")
	if err != nil {
		return nil, err
	}
	snapshot, err := loader.NewSnapshotFact[*order](dest, loader.WithLogger(env.Logger))
	if err != nil {
		return nil, err
	}

	b := pipeline.New("orders",
		pipeline.WithCluster(cluster),
		pipeline.WithTags("retail", "fact"),
		pipeline.WithDefaults(env.Config.Pipeline),
		pipeline.WithLogger(env.Logger),
		// orders reference customers by code
		pipeline.DependsOn(entity.TypeNameOf[*customer]()))
	rows := pipeline.Extract(b, staged, pipeline.WithOffsetPagination())
	valid := pipeline.Filter(rows, func(s *stagedOrder) bool { return s.Amount > 0 })
	mapped := pipeline.TransformRows(valid, func(s *stagedOrder) (*order, error) {
		return &order{Ref: s.Ref, CustomerCode: s.CustomerCode, Amount: s.Amount, OrderedAt: s.OrderedAt}, nil
	}, pipeline.WithName("to_order"))
	pipeline.Load(pipeline.HashRows(mapped), snapshot)
	return b.Build()
}
