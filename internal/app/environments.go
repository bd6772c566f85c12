package app

import (
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/environment/batch"
	"github.com/vk/labgrid/internal/environment/local"
)

// coreEnvironments is the definitive list of execution environments that
// are compiled into the labgrid binary.
var coreEnvironments = []func(*environment.Registry){
	local.Register,
	batch.Register,
}
