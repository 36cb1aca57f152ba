// Package logging builds the process-wide zap logger used as an
// explicit dependency by every service, generalizing the teacher's
// fmt.Printf calls into structured, leveled logging.
package logging

import "go.uber.org/zap"

// New builds a production logger, or a development one for local runs.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
