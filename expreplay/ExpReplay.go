// Package expreplay implements a replay buffer of environment
// transitions for offline-to-online training. The buffer can be bulk
// loaded from a fixed dataset, normalized against that dataset's state
// statistics, and extended online one transition at a time.
package expreplay

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ExperienceReplayer implements an experience replay buffer of
// (state, action, nextState, reward, notDone) transitions.
type ExperienceReplayer interface {
	// Add adds a single transition to the buffer, overwriting the
	// oldest transition once the buffer is full
	Add(state, action, nextState mat.Vector, reward, notDone float64) error

	// Sample samples a batch of transitions uniformly at random with
	// replacement. Each returned slice is batched in row major order
	// along axis 0.
	Sample(batchSize int) (state, action, nextState, reward,
		notDone []float64, err error)

	// LoadDataset replaces the buffer contents with a fixed dataset
	// of transitions
	LoadDataset(states, actions, nextStates *mat.Dense, rewards,
		notDones []float64) error

	// NormalizeStates normalizes the stored states and next states to
	// zero mean and unit variance per feature, returning the mean and
	// standard deviation used so that callers can apply the same
	// normalization to evaluation states
	NormalizeStates(epsilon float64) (mean, std []float64)

	// RelabelRewards applies f to every stored reward
	RelabelRewards(f func(float64) float64)

	// Capacity returns the current number of transitions in the buffer
	Capacity() int

	// MaxCapacity returns the maximum number of transitions the
	// buffer can hold
	MaxCapacity() int

	StateDim() int
	ActionDim() int
}

// cache implements a concrete ExperienceReplayer backed by flat
// float64 caches
type cache struct {
	stateCache     []float64
	actionCache    []float64
	nextStateCache []float64
	rewardCache    []float64
	notDoneCache   []float64

	size int // Number of stored transitions
	next int // Next insertion index; wraps FIFO once full

	maxCapacity int
	stateDim    int
	actionDim   int

	rng *rand.Rand
}

// New creates and returns a new ExperienceReplayer holding at most
// maxCapacity transitions of the argument dimensions.
func New(stateDim, actionDim, maxCapacity int,
	seed uint64) (ExperienceReplayer, error) {
	if stateDim <= 0 || actionDim <= 0 {
		return nil, fmt.Errorf("new: state and action dimensions must be "+
			"positive \n\thave state(%v) action(%v)", stateDim, actionDim)
	}
	if maxCapacity < 1 {
		return nil, fmt.Errorf("new: maxCapacity must be >= 1")
	}

	return &cache{
		stateCache:     make([]float64, maxCapacity*stateDim),
		actionCache:    make([]float64, maxCapacity*actionDim),
		nextStateCache: make([]float64, maxCapacity*stateDim),
		rewardCache:    make([]float64, maxCapacity),
		notDoneCache:   make([]float64, maxCapacity),
		maxCapacity:    maxCapacity,
		stateDim:       stateDim,
		actionDim:      actionDim,
		rng:            rand.New(rand.NewSource(seed)),
	}, nil
}

// Add adds a transition to the cache
func (c *cache) Add(state, action, nextState mat.Vector, reward,
	notDone float64) error {
	if state.Len() != c.stateDim || nextState.Len() != c.stateDim {
		return fmt.Errorf("add: invalid state size \n\twant(%v)"+
			"\n\thave(%v, %v)", c.stateDim, state.Len(), nextState.Len())
	}
	if action.Len() != c.actionDim {
		return fmt.Errorf("add: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", c.actionDim, action.Len())
	}

	index := c.next
	for i := 0; i < c.stateDim; i++ {
		c.stateCache[index*c.stateDim+i] = state.AtVec(i)
		c.nextStateCache[index*c.stateDim+i] = nextState.AtVec(i)
	}
	for i := 0; i < c.actionDim; i++ {
		c.actionCache[index*c.actionDim+i] = action.AtVec(i)
	}
	c.rewardCache[index] = reward
	c.notDoneCache[index] = notDone

	c.next = (c.next + 1) % c.maxCapacity
	if c.size < c.maxCapacity {
		c.size++
	}
	return nil
}

// Sample samples and returns a batch of transitions from the replay
// buffer
func (c *cache) Sample(batchSize int) ([]float64, []float64, []float64,
	[]float64, []float64, error) {
	if batchSize < 1 {
		err := &ExpReplayError{Op: "sample", Err: errInvalidBatchSize}
		return nil, nil, nil, nil, nil, err
	}
	if c.size == 0 {
		err := &ExpReplayError{Op: "sample", Err: errEmptyCache}
		return nil, nil, nil, nil, nil, err
	}
	if c.size < batchSize {
		err := &ExpReplayError{Op: "sample", Err: errInsufficientSamples}
		return nil, nil, nil, nil, nil, err
	}

	stateBatch := make([]float64, batchSize*c.stateDim)
	actionBatch := make([]float64, batchSize*c.actionDim)
	nextStateBatch := make([]float64, batchSize*c.stateDim)
	rewardBatch := make([]float64, batchSize)
	notDoneBatch := make([]float64, batchSize)

	for i := 0; i < batchSize; i++ {
		index := c.rng.Intn(c.size)

		copy(stateBatch[i*c.stateDim:(i+1)*c.stateDim],
			c.stateCache[index*c.stateDim:(index+1)*c.stateDim])
		copy(nextStateBatch[i*c.stateDim:(i+1)*c.stateDim],
			c.nextStateCache[index*c.stateDim:(index+1)*c.stateDim])
		copy(actionBatch[i*c.actionDim:(i+1)*c.actionDim],
			c.actionCache[index*c.actionDim:(index+1)*c.actionDim])

		rewardBatch[i] = c.rewardCache[index]
		notDoneBatch[i] = c.notDoneCache[index]
	}

	return stateBatch, actionBatch, nextStateBatch, rewardBatch,
		notDoneBatch, nil
}

// LoadDataset replaces the buffer contents with a fixed dataset. Each
// matrix holds one transition per row.
func (c *cache) LoadDataset(states, actions, nextStates *mat.Dense,
	rewards, notDones []float64) error {
	rows, cols := states.Dims()
	if cols != c.stateDim {
		return fmt.Errorf("loaddataset: invalid state size \n\twant(%v)"+
			"\n\thave(%v)", c.stateDim, cols)
	}
	if r, cA := actions.Dims(); r != rows || cA != c.actionDim {
		return fmt.Errorf("loaddataset: invalid actions \n\twant(%v x %v)"+
			"\n\thave(%v x %v)", rows, c.actionDim, r, cA)
	}
	if r, cS := nextStates.Dims(); r != rows || cS != c.stateDim {
		return fmt.Errorf("loaddataset: invalid next states \n\twant"+
			"(%v x %v)\n\thave(%v x %v)", rows, c.stateDim, r, cS)
	}
	if len(rewards) != rows || len(notDones) != rows {
		return fmt.Errorf("loaddataset: invalid rewards or episode flags"+
			"\n\twant(%v)\n\thave(%v, %v)", rows, len(rewards), len(notDones))
	}
	if rows > c.maxCapacity {
		return fmt.Errorf("loaddataset: dataset of %v transitions exceeds "+
			"buffer capacity %v", rows, c.maxCapacity)
	}

	for i := 0; i < rows; i++ {
		copy(c.stateCache[i*c.stateDim:(i+1)*c.stateDim],
			states.RawRowView(i))
		copy(c.nextStateCache[i*c.stateDim:(i+1)*c.stateDim],
			nextStates.RawRowView(i))
		copy(c.actionCache[i*c.actionDim:(i+1)*c.actionDim],
			actions.RawRowView(i))
	}
	copy(c.rewardCache, rewards)
	copy(c.notDoneCache, notDones)

	c.size = rows
	c.next = rows % c.maxCapacity
	return nil
}

// NormalizeStates normalizes the stored states and next states per
// feature, returning the statistics used. The standard deviation is
// offset by epsilon to avoid division by zero on constant features.
func (c *cache) NormalizeStates(epsilon float64) ([]float64, []float64) {
	mean := make([]float64, c.stateDim)
	std := make([]float64, c.stateDim)

	column := make([]float64, c.size)
	for j := 0; j < c.stateDim; j++ {
		for i := 0; i < c.size; i++ {
			column[i] = c.stateCache[i*c.stateDim+j]
		}
		m, s := stat.MeanStdDev(column, nil)
		if math.IsNaN(s) {
			// A single sample has no deviation
			s = 0
		}
		mean[j] = m
		std[j] = s + epsilon
	}

	for i := 0; i < c.size; i++ {
		for j := 0; j < c.stateDim; j++ {
			c.stateCache[i*c.stateDim+j] =
				(c.stateCache[i*c.stateDim+j] - mean[j]) / std[j]
			c.nextStateCache[i*c.stateDim+j] =
				(c.nextStateCache[i*c.stateDim+j] - mean[j]) / std[j]
		}
	}

	return mean, std
}

// RelabelRewards applies f to every stored reward
func (c *cache) RelabelRewards(f func(float64) float64) {
	for i := 0; i < c.size; i++ {
		c.rewardCache[i] = f(c.rewardCache[i])
	}
}

// Capacity returns the current number of transitions in the buffer
func (c *cache) Capacity() int {
	return c.size
}

// MaxCapacity returns the maximum number of transitions the buffer
// can hold
func (c *cache) MaxCapacity() int {
	return c.maxCapacity
}

// StateDim returns the number of features in a state vector
func (c *cache) StateDim() int {
	return c.stateDim
}

// ActionDim returns the number of features in an action vector
func (c *cache) ActionDim() int {
	return c.actionDim
}

// String returns the string representation of the cache
func (c *cache) String() string {
	return fmt.Sprintf("ExperienceReplay | Size: %v/%v | State Dim: %v "+
		"| Action Dim: %v", c.size, c.maxCapacity, c.stateDim, c.actionDim)
}
