package views

import (
	"github.com/sirupsen/logrus"

	"mag-logger/models"
	"mag-logger/utils"
)

// ConsoleView prints the live readout through the process logger.
type ConsoleView struct {
	log *logrus.Entry
}

func NewConsoleView() *ConsoleView {
	return &ConsoleView{log: utils.L().WithField("component", "monitor")}
}

func (v *ConsoleView) Update(r models.Readout) {
	v.log.Infof("#%-7d X: %6.2f  Y: %6.2f  Z: %6.2f mG", r.Sample, r.X, r.Y, r.Z)
}

func (v *ConsoleView) Redraw(p *models.LivePlot) {
	if len(p.Points) == 0 {
		return
	}
	v.log.Debugf("live plot: %d points (samples %d..%d)",
		len(p.Points), p.Points[0].Sample, p.Points[len(p.Points)-1].Sample)
}
