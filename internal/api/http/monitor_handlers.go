package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MonitorInfo returns static system information.
func (h *Handlers) MonitorInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitorsvc.Info())
}

// MonitorMetrics samples current runtime stats.
func (h *Handlers) MonitorMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitorsvc.Sample())
}

// MonitorHistory returns retained samples, oldest first.
func (h *Handlers) MonitorHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": h.monitorsvc.History()})
}

// MonitorProcesses lists the live terminal command processes.
func (h *Handlers) MonitorProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": h.monitorsvc.Processes()})
}
