package brief

import (
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// Brief 是一次会话的计划层级，归循环控制器所有。
type Brief struct {
	mu sync.RWMutex

	sessionID string
	goal      string
	cycle     int

	plans    []*StrategyPlan
	subGoals []*SubGoal
	commands []*ExecutableCommand

	planByID    map[string]*StrategyPlan
	subGoalByID map[string]*SubGoal
	commandByID map[string]*ExecutableCommand
}

// New 创建会话简报。sessionID 为空时自动生成。
func New(sessionID, goal string) *Brief {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	b := &Brief{sessionID: sessionID, goal: goal}
	b.resetLocked()
	return b
}

// SessionID 返回不可变的会话标识。
func (b *Brief) SessionID() string { return b.sessionID }

// Goal 返回用户的原始目标。
func (b *Brief) Goal() string { return b.goal }

// Cycle 返回当前循环计数。
func (b *Brief) Cycle() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cycle
}

// NextCycle 推进循环计数并返回新值。
func (b *Brief) NextCycle() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cycle++
	return b.cycle
}

// Reset 清空层级，循环计数保留。
func (b *Brief) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Brief) resetLocked() {
	b.plans = nil
	b.subGoals = nil
	b.commands = nil
	b.planByID = make(map[string]*StrategyPlan)
	b.subGoalByID = make(map[string]*SubGoal)
	b.commandByID = make(map[string]*ExecutableCommand)
}

// AddPlan 插入一个战略计划。
func (b *Brief) AddPlan(desc PlanDescription) StrategyPlan {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &StrategyPlan{ID: planPrefix + uuid.NewString(), Description: desc}
	b.plans = append(b.plans, p)
	b.planByID[p.ID] = p
	return *p
}

// AddSubGoal 在指定战略计划下插入子目标，父级不存在时返回 DanglingReferenceError。
func (b *Brief) AddSubGoal(parentID, description string, expected ExpectedData) (SubGoal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.planByID[parentID]; !ok {
		return SubGoal{}, &DanglingReferenceError{Kind: KindSubGoal, ParentID: parentID}
	}
	sg := &SubGoal{
		ID:                   subGoalPrefix + uuid.NewString(),
		ParentStrategyPlanID: parentID,
		Description:          description,
		ExpectedData:         expected.clone(),
	}
	b.subGoals = append(b.subGoals, sg)
	b.subGoalByID[sg.ID] = sg
	return *sg, nil
}

// AddCommand 在指定子目标下插入命令。已完成的子目标不会因此重新打开。
func (b *Brief) AddCommand(parentID, tool string, params map[string]any) (ExecutableCommand, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subGoalByID[parentID]; !ok {
		return ExecutableCommand{}, &DanglingReferenceError{Kind: KindCommand, ParentID: parentID}
	}
	c := &ExecutableCommand{
		ID:              commandPrefix + uuid.NewString(),
		ParentSubGoalID: parentID,
		Tool:            tool,
		Params:          maps.Clone(params),
	}
	b.commands = append(b.commands, c)
	b.commandByID[c.ID] = c
	return c.clone(), nil
}

// UpdateExpectedData 替换子目标声明的预期数据。
func (b *Brief) UpdateExpectedData(subGoalID string, expected ExpectedData) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sg, ok := b.subGoalByID[subGoalID]
	if !ok {
		return xerrors.New(CodeEntityNotFound, "sub goal "+subGoalID+" not found")
	}
	sg.ExpectedData = expected.clone()
	return nil
}

// MarkCommandComplete 标记命令完成并立即向上传播，返回完成状态发生变化的实体。
// 重复标记不会产生变化。
func (b *Brief) MarkCommandComplete(id string) ([]Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmd, ok := b.commandByID[id]
	if !ok {
		return nil, xerrors.New(CodeEntityNotFound, "command "+id+" not found")
	}
	if cmd.Completed {
		return nil, nil
	}
	cmd.Completed = true
	changes := []Change{{Kind: KindCommand, ID: cmd.ID}}
	return append(changes, b.propagateLocked(b.subGoalByID[cmd.ParentSubGoalID])...), nil
}

// propagateLocked 在子目标的命令全部完成时标记子目标完成，并继续检查父计划。
func (b *Brief) propagateLocked(sg *SubGoal) []Change {
	if sg.Completed || !b.allCommandsCompletedLocked(sg.ID) {
		return nil
	}
	sg.Completed = true
	changes := []Change{{Kind: KindSubGoal, ID: sg.ID}}

	plan := b.planByID[sg.ParentStrategyPlanID]
	if plan.Completed || !b.allSubGoalsCompletedLocked(plan.ID) {
		return changes
	}
	plan.Completed = true
	return append(changes, Change{Kind: KindStrategyPlan, ID: plan.ID})
}

func (b *Brief) allCommandsCompletedLocked(subGoalID string) bool {
	for _, c := range b.commands {
		if c.ParentSubGoalID == subGoalID && !c.Completed {
			return false
		}
	}
	return true
}

func (b *Brief) allSubGoalsCompletedLocked(planID string) bool {
	for _, sg := range b.subGoals {
		if sg.ParentStrategyPlanID == planID && !sg.Completed {
			return false
		}
	}
	return true
}

// MarkArchived 记录子目标已通过战术验证。尚未完成的命令不再需要，会被移除；
// 若剩余命令至少有一条且全部完成，子目标随之完成并向上传播。
func (b *Brief) MarkArchived(subGoalID string) ([]Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sg, ok := b.subGoalByID[subGoalID]
	if !ok {
		return nil, xerrors.New(CodeEntityNotFound, "sub goal "+subGoalID+" not found")
	}
	sg.Archived = true
	b.supersedeLocked(subGoalID)
	if !b.hasCommandsLocked(subGoalID) {
		return nil, nil
	}
	return b.propagateLocked(sg), nil
}

func (b *Brief) hasCommandsLocked(subGoalID string) bool {
	for _, c := range b.commands {
		if c.ParentSubGoalID == subGoalID {
			return true
		}
	}
	return false
}

// SupersedePending 删除子目标下尚未完成的命令，返回被删除的命令 ID。
// 用于战术重规划前清理上一轮失败或被跳过的命令。
func (b *Brief) SupersedePending(subGoalID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supersedeLocked(subGoalID)
}

func (b *Brief) supersedeLocked(subGoalID string) []string {
	var removed []string
	b.commands = slices.DeleteFunc(b.commands, func(c *ExecutableCommand) bool {
		if c.ParentSubGoalID != subGoalID || c.Completed {
			return false
		}
		removed = append(removed, c.ID)
		delete(b.commandByID, c.ID)
		return true
	})
	return removed
}

// Plans 返回全部战略计划的副本。
func (b *Brief) Plans() []StrategyPlan {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]StrategyPlan, 0, len(b.plans))
	for _, p := range b.plans {
		out = append(out, *p)
	}
	return out
}

// SubGoal 按 ID 查找子目标。
func (b *Brief) SubGoal(id string) (SubGoal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sg, ok := b.subGoalByID[id]
	if !ok {
		return SubGoal{}, false
	}
	out := *sg
	out.ExpectedData = sg.ExpectedData.clone()
	return out, true
}

// SubGoalsOf 返回战略计划下的子目标，planID 为空时返回全部。
func (b *Brief) SubGoalsOf(planID string) []SubGoal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []SubGoal
	for _, sg := range b.subGoals {
		if planID == "" || sg.ParentStrategyPlanID == planID {
			cp := *sg
			cp.ExpectedData = sg.ExpectedData.clone()
			out = append(out, cp)
		}
	}
	return out
}

// Command 按 ID 查找命令。
func (b *Brief) Command(id string) (ExecutableCommand, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.commandByID[id]
	if !ok {
		return ExecutableCommand{}, false
	}
	return c.clone(), true
}

// CommandsOf 返回子目标下的命令，subGoalID 为空时返回全部。
func (b *Brief) CommandsOf(subGoalID string) []ExecutableCommand {
	return b.filterCommands(func(c *ExecutableCommand) bool {
		return subGoalID == "" || c.ParentSubGoalID == subGoalID
	})
}

// PendingCommands 返回未完成的命令，subGoalID 为空时覆盖全部子目标。
func (b *Brief) PendingCommands(subGoalID string) []ExecutableCommand {
	return b.filterCommands(func(c *ExecutableCommand) bool {
		return !c.Completed && (subGoalID == "" || c.ParentSubGoalID == subGoalID)
	})
}

func (b *Brief) filterCommands(keep func(*ExecutableCommand) bool) []ExecutableCommand {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []ExecutableCommand
	for _, c := range b.commands {
		if keep(c) {
			out = append(out, c.clone())
		}
	}
	return out
}

// NextUnarchived 按计划顺序返回第一个尚未归档的子目标。
func (b *Brief) NextUnarchived() (SubGoal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.plans {
		for _, sg := range b.subGoals {
			if sg.ParentStrategyPlanID == p.ID && !sg.Archived {
				out := *sg
				out.ExpectedData = sg.ExpectedData.clone()
				return out, true
			}
		}
	}
	return SubGoal{}, false
}

// UncoveredPlans 按顺序返回尚未完成且没有任何子目标的战略计划。
func (b *Brief) UncoveredPlans() []StrategyPlan {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []StrategyPlan
	for _, p := range b.plans {
		if p.Completed {
			continue
		}
		covered := false
		for _, sg := range b.subGoals {
			if sg.ParentStrategyPlanID == p.ID {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, *p)
		}
	}
	return out
}

// AllPlansCompleted 判断是否所有战略计划都已完成。没有计划时返回 false。
func (b *Brief) AllPlansCompleted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.plans) == 0 {
		return false
	}
	for _, p := range b.plans {
		if !p.Completed {
			return false
		}
	}
	return true
}
