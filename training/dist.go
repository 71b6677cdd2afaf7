package training

import "fmt"

// ProcessGroup is the hook for multi-process training setups. The
// trainer only initializes the group; gradient synchronization happens
// outside this package.
type ProcessGroup interface {
	Init(worldSize int) error
	Rank() int
	WorldSize() int
}

// SingleProcess is the default group for worldSize 1.
type SingleProcess struct{}

func (SingleProcess) Init(worldSize int) error {
	if worldSize != 1 {
		return fmt.Errorf("single-process group cannot serve world size %d", worldSize)
	}
	return nil
}

func (SingleProcess) Rank() int      { return 0 }
func (SingleProcess) WorldSize() int { return 1 }
