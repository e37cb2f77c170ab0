package worker

// suspendSignal unwinds a workflow function that reached a point whose answer
// is not in the log yet. It is deliberately a private type raised via panic:
// user code cannot construct, catch or confuse it with an error, so a
// suspension can never be swallowed by ordinary error handling.
type suspendSignal struct{}

// agentSuspendSignal unwinds an agent function that must wait for tasks.
type agentSuspendSignal struct {
	awaitedTaskIDs []string
}

func suspend() {
	panic(suspendSignal{})
}
