package tillflow_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/tillflow"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/ports"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/aretw0/tillflow/pkg/scope"
)

// ExampleNew builds a small checkout flow in code and walks one device through it.
func ExampleNew() {
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Idle").On("Scan", "Basket")
	main.State("Basket").On("Scan", "Basket").On("Total", "Tender")
	main.Ref("Tender")
	main.Global().On("Void", "Idle")

	reg := registry.New()
	reg.MustRegister("Idle", func() domain.State {
		return domain.StateFunc(func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
			return "Scan an item", nil
		})
	})
	reg.MustRegister("Basket", func() domain.State {
		return domain.StateFunc(func(_ context.Context, conv domain.Conversation, trigger domain.Action) (domain.Screen, error) {
			items, _ := scope.Value[int](conv.Scope(), "items")
			items++
			if err := conv.Scope().Set(scope.Device, "items", items); err != nil {
				return nil, err
			}
			return fmt.Sprintf("%d item(s), last %v", items, trigger.Payload), nil
		})
	})
	reg.MustRegister("Tender", func() domain.State {
		return domain.StateFunc(func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
			return "Cash or card?", nil
		})
	})

	show := ports.PresenterFunc(func(_ context.Context, deviceID string, screen domain.Screen) error {
		fmt.Printf("[%s] %v\n", deviceID, screen)
		return nil
	})

	eng, err := tillflow.New(b.Source(), "Main", reg, tillflow.WithPresenter(show))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	defer eng.Close(ctx)

	if err := eng.Begin(ctx, "lane-3", nil); err != nil {
		log.Fatal(err)
	}
	_ = eng.DoAction(ctx, "lane-3", "Scan", "milk")
	_ = eng.DoAction(ctx, "lane-3", "Scan", "bread")
	_ = eng.DoAction(ctx, "lane-3", "Total", nil)

	// Output:
	// [lane-3] Scan an item
	// [lane-3] 1 item(s), last milk
	// [lane-3] 2 item(s), last bread
	// [lane-3] Cash or card?
}
