package session

// transitions maps each state to the commands it accepts and the state
// each command leads to. StartSession lands in Calibrating instead when
// the experiment is calibrated.
var transitions = map[State]map[Command]State{
	Disconnected: {
		Connect: Connected,
	},
	Connected: {
		StartSession:    SessionActive,
		StopStimulation: Connected,
	},
	Calibrating: {
		SendWaveform:     Calibrating,
		StartStimulation: Calibrating,
		StopStimulation:  Calibrating,
		TimedStimulate:   Calibrating,
		Annotate:         Calibrating,
		DoneCalibration:  SessionActive,
		EndSession:       Disconnected,
	},
	SessionActive: {
		SendWaveform:      SessionActive,
		StartStimulation:  SessionActive,
		StopStimulation:   SessionActive,
		TimedStimulate:    SessionActive,
		RecordMeasurement: SessionActive,
		Annotate:          SessionActive,
		EndSession:        Disconnected,
	},
}

// lookup returns the target state of cmd from s.
func lookup(s State, cmd Command) (State, bool) {
	next, ok := transitions[s][cmd]
	return next, ok
}

// blockedWhileStimulating lists commands refused until stimulation stops.
var blockedWhileStimulating = map[Command]bool{
	SendWaveform:      true,
	StartStimulation:  true,
	TimedStimulate:    true,
	RecordMeasurement: true,
	DoneCalibration:   true,
	EndSession:        true,
}

// trialCommands are gated off once every trial is recorded.
var trialCommands = map[Command]bool{
	SendWaveform:      true,
	StartStimulation:  true,
	TimedStimulate:    true,
	RecordMeasurement: true,
}
