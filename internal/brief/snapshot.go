package brief

// Snapshot 是层级在某一时刻的只读副本。
type Snapshot struct {
	SessionID string              `json:"session_id"`
	Goal      string              `json:"goal"`
	Cycle     int                 `json:"cycle"`
	Plans     []StrategyPlan      `json:"strategy_plans"`
	SubGoals  []SubGoal           `json:"sub_goals"`
	Commands  []ExecutableCommand `json:"executable_commands"`
}

// Snapshot 深拷贝当前层级，供观察者轮询。
func (b *Brief) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Snapshot{
		SessionID: b.sessionID,
		Goal:      b.goal,
		Cycle:     b.cycle,
		Plans:     make([]StrategyPlan, 0, len(b.plans)),
		SubGoals:  make([]SubGoal, 0, len(b.subGoals)),
		Commands:  make([]ExecutableCommand, 0, len(b.commands)),
	}
	for _, p := range b.plans {
		s.Plans = append(s.Plans, *p)
	}
	for _, sg := range b.subGoals {
		cp := *sg
		cp.ExpectedData = sg.ExpectedData.clone()
		s.SubGoals = append(s.SubGoals, cp)
	}
	for _, c := range b.commands {
		s.Commands = append(s.Commands, c.clone())
	}
	return s
}
