package connector_test

import (
	"context"
	"fmt"
	"log"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/memory"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
)

type product struct {
	entity.Fact
	SKU   string  `etl:"sku,natural"`
	Price float64 `etl:"price"`
}

// Example reads a page from a source and looks rows up in a destination.
func Example() {
	ctx := context.Background()

	source := connector.ReaderFunc[*product](func(_ context.Context, params []connector.Parameter) ([]*product, error) {
		limit, _ := connector.Lookup(params, connector.ParamLimit)
		fmt.Println("limit:", limit)
		return []*product{{SKU: "A", Price: 1.5}, {SKU: "B", Price: 2}}, nil
	})

	rows, err := source.Query(ctx, []connector.Parameter{connector.NewParameter(connector.ParamLimit, 2)})
	if err != nil {
		log.Fatal(err)
	}

	dest := memory.MustTable[*product]()
	if _, err := dest.Insert(ctx, rows[:1]); err != nil {
		log.Fatal(err)
	}

	sku := entity.MustDescribe[*product]().Field("sku")
	found, err := dest.Find(ctx, connector.FindQuery[*product]{
		Candidates: rows,
		Compare:    []*entity.Field{sku},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("already stored:", len(found), found[0].SKU)

	// Output:
	// limit: 2
	// already stored: 1 A
}

// ExampleInTransaction shows writes joining a destination's transaction.
func ExampleInTransaction() {
	ctx := context.Background()
	dest := memory.MustTable[*product]()

	err := connector.InTransaction(ctx, dest, func(ctx context.Context) error {
		_, err := dest.Insert(ctx, []*product{{SKU: "A"}})
		if err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	fmt.Println(err, dest.Len())

	// Output:
	// abort 0
}
