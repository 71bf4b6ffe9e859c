package query

// state names the retrieve pipeline's stages:
// IDLE -> EXPANDING -> SEARCHING -> FUSING -> RANKING -> TOUCHING -> DONE.
// Stages are only named inline in Engine.Retrieve (not logged) rather than enforced
// by a literal type switch: the pipeline is a straight-line function
// and cancellation is checked via ctx.Err() between stages, which
// already discards downstream work once the caller cancels.
type state string

const (
	stateIdle      state = "idle"
	stateExpanding state = "expanding"
	stateSearching state = "searching"
	stateFusing    state = "fusing"
	stateRanking   state = "ranking"
	stateTouching  state = "touching"
	stateDone      state = "done"
)
