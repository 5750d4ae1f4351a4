package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubModule struct {
	name     string
	priority int
	order    *[]string
	err      error
}

func (m *stubModule) Name() string  { return m.name }
func (m *stubModule) Priority() int { return m.priority }
func (m *stubModule) Init(*ModuleContext) error {
	*m.order = append(*m.order, m.name)
	return m.err
}

func withRegistry(t *testing.T) {
	saved := moduleRegistry
	moduleRegistry = make(map[string]Module)
	t.Cleanup(func() { moduleRegistry = saved })
}

func TestInitModules_Order(t *testing.T) {
	withRegistry(t)
	var order []string
	Register(&stubModule{name: "payment", priority: 20, order: &order})
	Register(&stubModule{name: "health", priority: 1, order: &order})
	Register(&stubModule{name: "audit", priority: 20, order: &order})

	assert.NoError(t, InitModules(&ModuleContext{}))
	assert.Equal(t, []string{"health", "audit", "payment"}, order)
}

func TestInitModules_StopsOnError(t *testing.T) {
	withRegistry(t)
	var order []string
	boom := errors.New("boom")
	Register(&stubModule{name: "a", priority: 1, order: &order, err: boom})
	Register(&stubModule{name: "b", priority: 2, order: &order})

	assert.ErrorIs(t, InitModules(&ModuleContext{}), boom)
	assert.Equal(t, []string{"a"}, order)
}

func TestModuleContext_Shutdown(t *testing.T) {
	t.Run("Runs hooks in reverse order", func(t *testing.T) {
		mc := &ModuleContext{}
		var order []string
		mc.OnShutdown(func() { order = append(order, "pool") })
		mc.OnShutdown(func() { order = append(order, "sweeper") })

		assert.NoError(t, mc.Shutdown(context.Background()))
		assert.Equal(t, []string{"sweeper", "pool"}, order)
	})

	t.Run("Gives up when the deadline passes", func(t *testing.T) {
		mc := &ModuleContext{}
		block := make(chan struct{})
		defer close(block)
		mc.OnShutdown(func() { <-block })

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, mc.Shutdown(ctx), context.DeadlineExceeded)
	})

	t.Run("No hooks", func(t *testing.T) {
		assert.NoError(t, (&ModuleContext{}).Shutdown(context.Background()))
	})
}
