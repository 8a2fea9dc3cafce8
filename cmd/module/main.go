// Package main serves the point-cloud odometry movementsensor as a Viam
// module.
package main

import (
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	"github.com/Abhimanyu-0/LOCUS/models"
)

func main() {
	module.ModularMain(resource.APIModel{API: movementsensor.API, Model: models.Model})
}
