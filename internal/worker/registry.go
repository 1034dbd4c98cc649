package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/duke-git/lancet/v2/maputil"
)

// Factory 根据服务选项创建 worker。
type Factory func(options Options) (Worker, error)

// Registry 管理 worker 类型的注册和查找。
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry 创建一个包含内置 worker 的注册表。
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.MustRegister("sleep", NewSleepWorker)
	r.MustRegister("checksum", NewChecksumWorker)
	return r
}

// Register 为给定类型注册构造函数。
// 如果该类型已注册，则返回错误。
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("worker type must not be empty")
	}
	if f == nil {
		return fmt.Errorf("worker type %s has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("worker type already registered: %s", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister 注册构造函数，如果出错则 panic。
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Create 按类型创建 worker。
func (r *Registry) Create(name string, options map[string]any) (Worker, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown worker type: %s", name)
	}
	if options == nil {
		options = make(map[string]any)
	}
	return f(Options(options))
}

// Types 返回所有已注册的类型，按名称排序。
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := maputil.Keys(r.factories)
	sort.Strings(names)
	return names
}
