package ai

import "time"

// AIContext is passed to every behavior tree node during an evaluation.
type AIContext struct {
	Now      time.Duration // simulation time of the evaluation
	Interval time.Duration // time since the previous evaluation
	Trace    []string      // names of the actions that ran, in order
}

func (c *AIContext) visit(name string) {
	if name != "" {
		c.Trace = append(c.Trace, name)
	}
}
