package session

// Recorder captures the call screen to a local file. Implementations are
// platform specific; a nil Recorder disables the feature entirely.
type Recorder interface {
	// Start begins a capture. withMic controls whether the microphone is
	// mixed into the recording.
	Start(withMic bool) error
	// Stop finalizes the capture and returns the path of the saved file.
	Stop() (string, error)
}

// MockRecorder is an in-memory Recorder for tests.
type MockRecorder struct {
	StartErr error
	StopErr  error
	Path     string

	Started   int
	Stopped   int
	LastMic   bool
	recording bool
}

func (m *MockRecorder) Start(withMic bool) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.Started++
	m.LastMic = withMic
	m.recording = true
	return nil
}

func (m *MockRecorder) Stop() (string, error) {
	m.Stopped++
	m.recording = false
	if m.StopErr != nil {
		return "", m.StopErr
	}
	if m.Path == "" {
		return "recording.webm", nil
	}
	return m.Path, nil
}

// Recording reports whether a capture is currently running.
func (m *MockRecorder) Recording() bool { return m.recording }
