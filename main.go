package main

import (
	"fmt"
	"log"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/duxin0618/DMG/agent/nonlinear/continuous/dmg"
	"github.com/duxin0618/DMG/experiment/tracker"
	"github.com/duxin0618/DMG/expreplay"
	"github.com/duxin0618/DMG/utils/floatutils"
	"github.com/duxin0618/DMG/utils/progressbar"
)

const (
	stateDim  = 3
	actionDim = 1
	maxAction = 1.0

	datasetSize = 50_000
	trainSteps  = 20_000
)

// syntheticDataset generates transitions from a damped point mass
// controlled by a noisy stabilizing policy. The dataset stands in for
// a pre-collected offline dataset.
func syntheticDataset(seed uint64) (*mat.Dense, *mat.Dense, *mat.Dense,
	[]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))

	states := mat.NewDense(datasetSize, stateDim, nil)
	actions := mat.NewDense(datasetSize, actionDim, nil)
	nextStates := mat.NewDense(datasetSize, stateDim, nil)
	rewards := make([]float64, datasetSize)
	notDones := make([]float64, datasetSize)

	position := 2*rng.Float64() - 1
	velocity := 0.0
	for i := 0; i < datasetSize; i++ {
		// Behaviour policy: proportional control plus exploration noise
		action := floatutils.Clip(-position-0.5*velocity+
			0.3*rng.NormFloat64(), -maxAction, maxAction)

		nextVelocity := 0.95*velocity + 0.1*action
		nextPosition := position + nextVelocity

		states.SetRow(i, []float64{position, velocity,
			position * position})
		actions.Set(i, 0, action)
		nextStates.SetRow(i, []float64{nextPosition, nextVelocity,
			nextPosition * nextPosition})
		rewards[i] = -(position*position + 0.1*action*action)
		notDones[i] = 1

		position, velocity = nextPosition, nextVelocity
		if (i+1)%200 == 0 {
			// Episode boundary: reset the mass to a random position
			notDones[i] = 0
			position = 2*rng.Float64() - 1
			velocity = 0
		}
	}

	return states, actions, nextStates, rewards, notDones
}

func main() {
	var seed uint64 = 192382

	buffer, err := expreplay.New(stateDim, actionDim, datasetSize, seed)
	if err != nil {
		log.Fatalf("could not create replay buffer: %v", err)
	}

	states, actions, nextStates, rewards, notDones := syntheticDataset(seed)
	err = buffer.LoadDataset(states, actions, nextStates, rewards, notDones)
	if err != nil {
		log.Fatalf("could not load dataset: %v", err)
	}
	mean, std := buffer.NormalizeStates(1e-3)

	metrics, err := tracker.NewGob("./data")
	if err != nil {
		log.Fatalf("could not create metric tracker: %v", err)
	}

	config, err := dmg.NewMujocoConfig(stateDim, actionDim, maxAction)
	if err != nil {
		log.Fatalf("could not create configuration: %v", err)
	}
	config.MaxTimesteps = trainSteps

	agent, err := dmg.New(config, buffer, metrics, seed)
	if err != nil {
		log.Fatalf("could not create agent: %v", err)
	}

	bar := progressbar.NewManualProgressBar(65, trainSteps)
	for i := 0; i < trainSteps; i++ {
		if err := agent.TrainOffline(); err != nil {
			log.Fatalf("training failed at step %v: %v", agent.TotalIt(), err)
		}
		bar.Increment()
		if (i+1)%100 == 0 {
			bar.Display()
		}
	}
	fmt.Println()

	if err := metrics.Save(); err != nil {
		log.Fatalf("could not save metrics: %v", err)
	}
	if err := agent.Save("./models"); err != nil {
		log.Fatalf("could not save agent: %v", err)
	}

	// Query the learned policy at the origin, normalized with the
	// dataset statistics
	probe := mat.NewVecDense(stateDim, nil)
	for i := 0; i < stateDim; i++ {
		probe.SetVec(i, (0-mean[i])/std[i])
	}
	action, err := agent.SelectAction(probe)
	if err != nil {
		log.Fatalf("could not select action: %v", err)
	}
	fmt.Printf("policy action at the origin: %v\n",
		mat.Formatted(action.T()))
}
