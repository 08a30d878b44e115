package client

import (
	"encoding/json"
	"fmt"
)

// GetDebugInfo returns a snapshot of connection and session state for debugging.
func (c *Connection) GetDebugInfo() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := map[string]interface{}{
		"version":   Version,
		"connID":    c.id,
		"server":    c.server,
		"driver":    c.bridge.Driver().Name(),
		"state":     c.stateMgr.GetState().String(),
		"debugMode": c.opts.DebugMode,
		"rowCount":  c.rowCount,
		"totalRows": c.totalRows,
		"batches":   c.batches,
		"hooks":     len(c.snapshotHooks()),
	}

	info["options"] = map[string]interface{}{
		"batchSize":    c.batchSize,
		"textSize":     c.textSize,
		"appName":      c.opts.AppName,
		"loginTimeout": c.opts.LoginTimeout.String(),
	}

	if s := c.session; s != nil {
		info["session"] = map[string]interface{}{
			"id":          s.id,
			"table":       s.table,
			"width":       s.width,
			"sinceCommit": s.sinceCommit,
			"committed":   s.committed,
		}
	}

	if c.handle != nil {
		m := c.handle.Metrics()
		info["transport"] = map[string]interface{}{
			"rowsSent":      m.RowsSent,
			"rowsCommitted": m.RowsCommitted,
			"batches":       m.Batches,
			"bytesSent":     m.BytesSent,
			"totalErrors":   m.TotalErrors,
		}
	}

	lastTransition := c.stateMgr.GetLastTransition()
	info["lastTransition"] = map[string]interface{}{
		"from":      lastTransition.From.String(),
		"to":        lastTransition.To.String(),
		"timestamp": lastTransition.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		"duration":  lastTransition.Duration.String(),
	}

	return info
}

// DumpDebugInfoJSON returns debug info as formatted JSON string.
func (c *Connection) DumpDebugInfoJSON() string {
	info := c.GetDebugInfo()
	bytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}
