package validation

import (
	"fmt"
	"sort"
)

// Factory 构造一条规则
type Factory func() (Rule, error)

// Registry 规则名到构造函数的显式映射
type Registry struct {
	factories map[string]registered
}

type registered struct {
	stage   Stage
	factory Factory
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]registered)}
}

// Register 注册规则构造函数，重名时 panic（注册发生在启动期）
func (r *Registry) Register(name string, stage Stage, f Factory) {
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("validation: rule %q registered twice", name))
	}
	r.factories[name] = registered{stage: stage, factory: f}
}

// Names 已注册的规则名（排序）
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RuleSet 每个阶段按顺序执行的规则名
type RuleSet struct {
	Header    []string
	Integrity []string
	Partial   []string
	Full      []string
}

// Build 按规则集构造流水线；未知规则名或阶段不符时报错
func (r *Registry) Build(set RuleSet, opts Options) (*Pipeline, error) {
	var stages [4][]Rule
	for stage, names := range [][]string{set.Header, set.Integrity, set.Partial, set.Full} {
		for _, name := range names {
			reg, ok := r.factories[name]
			if !ok {
				return nil, fmt.Errorf("unknown validation rule %q", name)
			}
			if reg.stage != Stage(stage) {
				return nil, fmt.Errorf("rule %q belongs to stage %s, configured under %s", name, reg.stage, Stage(stage))
			}
			rule, err := reg.factory()
			if err != nil {
				return nil, fmt.Errorf("build rule %q: %w", name, err)
			}
			stages[stage] = append(stages[stage], rule)
		}
	}
	return NewPipeline(stages[0], stages[1], stages[2], stages[3], opts)
}
