package router

import (
	"fmt"

	"github.com/aurelia-ai/aurelia/pkg/chat"
	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/protocol"
)

// onCustomEvent routes the nested custom_event discriminators: the chart
// lifecycle and deep-research progress. Both are side-channel enrichment on
// the streaming target; neither ever touches the primary text.
func (r *Router) onCustomEvent(evt protocol.Event) error {
	if evt.Custom == nil {
		return fmt.Errorf("custom_event without payload")
	}
	switch evt.Custom.Name {
	case protocol.CustomChartStarted:
		return r.onChartStarted(evt)
	case protocol.CustomChartGenerated:
		return r.onChartGenerated(evt)
	case protocol.CustomChartError:
		return r.onChartError(evt)
	case protocol.CustomResearchStarted, protocol.CustomResearchProgress:
		return r.onResearchProgress(evt)
	case protocol.CustomResearchCompleted:
		return r.onResearchCompleted(evt)
	default:
		return fmt.Errorf("unknown custom event %q", evt.Custom.Name)
	}
}

// onChartStarted raises the session-level loading banner. The banner is
// transient session state, deliberately not attached to any message.
func (r *Router) onChartStarted(evt protocol.Event) error {
	localID, ok := r.resolveSession(evt)
	if !ok {
		return chat.ErrSessionNotFound
	}
	return r.store.SetChartBanner(localID, chat.ChartBanner{
		State:     chat.ChartBannerLoading,
		ChartType: evt.Custom.ChartType,
		Title:     evt.Custom.Title,
	})
}

// onChartGenerated clears the loading banner and appends the payload to
// the target message. Appends are deduplicated by chart id, so
// re-delivery of the same chart is a no-op.
func (r *Router) onChartGenerated(evt protocol.Event) error {
	localID, ok := r.resolveSession(evt)
	if !ok {
		return chat.ErrSessionNotFound
	}
	if err := r.store.ClearChartBanner(localID); err != nil {
		return err
	}

	payload := chat.ChartPayload{
		ChartID:   evt.Custom.ChartID,
		ChartType: evt.Custom.ChartType,
		Title:     evt.Custom.Title,
		Data:      evt.Custom.Data,
		Mermaid:   evt.Custom.Mermaid,
		Metadata:  evt.Custom.Metadata,
	}
	return r.updateTarget(evt, func(m *chat.Message) {
		if m.HasChart(payload.ChartID) {
			return
		}
		m.Charts = append(m.Charts, payload)
	})
}

// onChartError clears the loading banner and raises the error banner,
// which stays until the user explicitly dismisses it.
func (r *Router) onChartError(evt protocol.Event) error {
	localID, ok := r.resolveSession(evt)
	if !ok {
		return chat.ErrSessionNotFound
	}
	r.logger.Warn(logging.CategoryChart, "chart_failed", evt.Custom.Error, map[string]any{
		"session_id": evt.SessionID, "chart_id": evt.Custom.ChartID,
	})
	return r.store.SetChartBanner(localID, chat.ChartBanner{
		State:     chat.ChartBannerError,
		ChartType: evt.Custom.ChartType,
		Title:     evt.Custom.Title,
		Error:     evt.Custom.Error,
	})
}

// onResearchProgress narrates a long-running background task through the
// tool-activity line; overwritten per phase, like tool status.
func (r *Router) onResearchProgress(evt protocol.Event) error {
	phase := evt.Custom.Phase
	if phase == "" {
		phase = "Researching…"
	}
	return r.updateTarget(evt, func(m *chat.Message) {
		m.ToolActivity = phase
	})
}

func (r *Router) onResearchCompleted(evt protocol.Event) error {
	return r.updateTarget(evt, func(m *chat.Message) {
		m.ToolActivity = ""
	})
}
