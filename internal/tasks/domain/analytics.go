package domain

// SessionInsights summarizes the live work sessions.
type SessionInsights struct {
	ActiveSessions        int     `json:"activeSessions"`
	PausedSessions        int     `json:"pausedSessions"`
	ProtectedSessions     int     `json:"protectedSessions"`
	TotalInterruptions    int     `json:"totalInterruptions"`
	AverageFocusIntensity float64 `json:"averageFocusIntensity"`
}

// Analytics is the aggregate view over all tasks of a namespace plus the
// session insights at the time it was computed.
type Analytics struct {
	TotalTasks            int              `json:"totalTasks"`
	ByStatus              map[Status]int   `json:"byStatus"`
	ByPriority            map[Priority]int `json:"byPriority"`
	CompletionRate        float64          `json:"completionRate"`
	AverageFocusIntensity float64          `json:"averageFocusIntensity"`
	TotalEstimatedMinutes int              `json:"totalEstimatedMinutes"`
	CompletedSubtasks     int              `json:"completedSubtasks"`
	TotalSubtasks         int              `json:"totalSubtasks"`
	Sessions              SessionInsights  `json:"sessions"`
}

// Clone returns a deep copy of the analytics value.
func (a Analytics) Clone() Analytics {
	c := a
	if a.ByStatus != nil {
		c.ByStatus = make(map[Status]int, len(a.ByStatus))
		for k, v := range a.ByStatus {
			c.ByStatus[k] = v
		}
	}
	if a.ByPriority != nil {
		c.ByPriority = make(map[Priority]int, len(a.ByPriority))
		for k, v := range a.ByPriority {
			c.ByPriority[k] = v
		}
	}
	return c
}
