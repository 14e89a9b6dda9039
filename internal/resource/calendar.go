package resource

import (
	"net/http"

	"github.com/tonimelisma/feishu-go/internal/node"
)

func calendarOperations() []node.Operation {
	calendarID := required(str("calendar_id", "Calendar ID"))
	eventID := required(str("event_id", "Event ID"))

	endpoints := []endpoint{
		{
			name:    "create",
			display: "Create Calendar",
			method:  http.MethodPost,
			path:    "/open-apis/calendar/v4/calendars",
			fields:  []string{"summary", "description", "permissions", "color", "summary_alias"},
			params: []node.Param{
				str("summary", "Title"),
				str("description", "Description"),
				choice("permissions", "Visibility", "private", "private", "show_only_free_busy", "public"),
				describe(num("color", "Color", nil), "RGB value as a signed 32-bit integer."),
				str("summary_alias", "Alias"),
			},
		},
		{
			name:    "get",
			display: "Get Calendar",
			method:  http.MethodGet,
			path:    "/open-apis/calendar/v4/calendars/{calendar_id}",
			params:  []node.Param{calendarID},
		},
		{
			name:    "search",
			display: "Search Calendars",
			method:  http.MethodPost,
			path:    "/open-apis/calendar/v4/calendars/search",
			query:   []string{"page_size", "page_token"},
			fields:  []string{"query"},
			params: []node.Param{
				required(str("query", "Keyword")),
				num("page_size", "Page Size", 20),
				str("page_token", "Page Token"),
			},
		},
		{
			name:    "createEvent",
			display: "Create Event",
			method:  http.MethodPost,
			path:    "/open-apis/calendar/v4/calendars/{calendar_id}/events",
			query:   []string{"idempotency_key", "user_id_type"},
			extra:   "body",
			params: []node.Param{
				calendarID,
				required(describe(jsonParam("body", "Event"), "summary, start_time, end_time and the other event fields.")),
				str("idempotency_key", "Idempotency Key"),
				userIDType(),
			},
		},
		{
			name:    "getEvent",
			display: "Get Event",
			method:  http.MethodGet,
			path:    "/open-apis/calendar/v4/calendars/{calendar_id}/events/{event_id}",
			query:   []string{"need_meeting_settings", "need_attendee", "max_attendee_num", "user_id_type"},
			params: []node.Param{
				calendarID,
				eventID,
				boolean("need_meeting_settings", "Include Meeting Settings", false),
				boolean("need_attendee", "Include Attendees", false),
				num("max_attendee_num", "Max Attendees", nil),
				userIDType(),
			},
		},
		{
			name:    "listEvents",
			display: "List Events",
			method:  http.MethodGet,
			path:    "/open-apis/calendar/v4/calendars/{calendar_id}/events",
			query:   []string{"page_size", "anchor_time", "page_token", "sync_token", "start_time", "end_time", "user_id_type"},
			params: []node.Param{
				calendarID,
				num("page_size", "Page Size", 50),
				str("anchor_time", "Anchor Time"),
				str("page_token", "Page Token"),
				str("sync_token", "Sync Token"),
				describe(str("start_time", "Start Time"), "Unix seconds."),
				describe(str("end_time", "End Time"), "Unix seconds."),
				userIDType(),
			},
		},
		{
			name:    "searchEvents",
			display: "Search Events",
			method:  http.MethodPost,
			path:    "/open-apis/calendar/v4/calendars/{calendar_id}/events/search",
			query:   []string{"page_token", "page_size", "user_id_type"},
			fields:  []string{"query"},
			params: []node.Param{
				calendarID,
				required(str("query", "Keyword")),
				jsonParam("filter", "Filter"),
				str("page_token", "Page Token"),
				num("page_size", "Page Size", 20),
				userIDType(),
			},
			body: func(p *node.Params, body map[string]any) (any, error) {
				if filter := p.Object("filter"); len(filter) > 0 {
					body["filter"] = filter
				}

				return body, nil
			},
		},
		{
			name:    "deleteEvent",
			display: "Delete Event",
			method:  http.MethodDelete,
			path:    "/open-apis/calendar/v4/calendars/{calendar_id}/events/{event_id}",
			query:   []string{"need_notification"},
			params: []node.Param{
				calendarID,
				eventID,
				boolean("need_notification", "Notify Attendees", true),
			},
		},
	}

	ops := make([]node.Operation, 0, len(endpoints))
	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceCalendar))
	}

	return ops
}
