package events

import (
	"fmt"
	"time"
)

// Document renders the incident as the schemaless map stored in the
// `incidents` collection. Timestamps stay typed so range queries work on
// both store backends.
func (i *Incident) Document() map[string]interface{} {
	evts := make([]interface{}, len(i.Events))
	for idx, e := range i.Events {
		resources := make([]interface{}, len(e.AffectedResources))
		for j, r := range e.AffectedResources {
			resources[j] = r
		}
		source := map[string]interface{}{
			"source_type": e.Source.Type,
			"name":        e.Source.Name,
			"id":          e.Source.ID,
		}
		if len(e.Source.Resource) > 0 {
			res := make(map[string]interface{}, len(e.Source.Resource))
			for k, v := range e.Source.Resource {
				res[k] = v
			}
			source["resource"] = res
		}
		evts[idx] = map[string]interface{}{
			"id":                 e.ID,
			"timestamp":          e.Timestamp,
			"event_type":         e.Type,
			"severity":           e.Severity,
			"description":        e.Description,
			"actor":              e.Actor,
			"affected_resources": resources,
			"source":             source,
			"raw_data":           e.RawData,
		}
	}

	tags := make([]interface{}, len(i.Tags))
	for idx, t := range i.Tags {
		tags[idx] = t
	}

	return map[string]interface{}{
		"id":          i.ID,
		"created_at":  i.CreatedAt,
		"updated_at":  i.UpdatedAt,
		"title":       i.Title,
		"description": i.Description,
		"severity":    i.Severity,
		"status":      string(i.Status),
		"assigned_to": i.AssignedTo,
		"tags":        tags,
		"events":      evts,
		"metadata":    i.Metadata,
	}
}

// IncidentFromDocument rebuilds an incident from its stored document form.
func IncidentFromDocument(doc map[string]interface{}) (*Incident, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("incident document missing id")
	}

	inc := &Incident{
		ID:          id,
		Title:       docString(doc, "title"),
		Description: docString(doc, "description"),
		Severity:    docString(doc, "severity"),
		Status:      IncidentStatus(docString(doc, "status")),
		AssignedTo:  docString(doc, "assigned_to"),
		CreatedAt:   docTime(doc, "created_at"),
		UpdatedAt:   docTime(doc, "updated_at"),
	}
	if meta, ok := doc["metadata"].(map[string]interface{}); ok {
		inc.Metadata = meta
	}
	if rawTags, ok := doc["tags"].([]interface{}); ok {
		for _, t := range rawTags {
			if s, ok := t.(string); ok {
				inc.Tags = append(inc.Tags, s)
			}
		}
	}

	rawEvents, _ := doc["events"].([]interface{})
	for _, raw := range rawEvents {
		em, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		evt := SecurityEvent{
			ID:          docString(em, "id"),
			Timestamp:   docTime(em, "timestamp"),
			Type:        docString(em, "event_type"),
			Severity:    docString(em, "severity"),
			Description: docString(em, "description"),
			Actor:       docString(em, "actor"),
		}
		if rd, ok := em["raw_data"].(map[string]interface{}); ok {
			evt.RawData = rd
		}
		if resources, ok := em["affected_resources"].([]interface{}); ok {
			for _, r := range resources {
				if s, ok := r.(string); ok {
					evt.AffectedResources = append(evt.AffectedResources, s)
				}
			}
		}
		if src, ok := em["source"].(map[string]interface{}); ok {
			evt.Source = EventSource{
				Type: docString(src, "source_type"),
				Name: docString(src, "name"),
				ID:   docString(src, "id"),
			}
			if res, ok := src["resource"].(map[string]interface{}); ok {
				evt.Source.Resource = make(map[string]string, len(res))
				for k, v := range res {
					if s, ok := v.(string); ok {
						evt.Source.Resource[k] = s
					}
				}
			}
		}
		inc.Events = append(inc.Events, evt)
	}

	return inc, nil
}

func docString(doc map[string]interface{}, field string) string {
	s, _ := doc[field].(string)
	return s
}

func docTime(doc map[string]interface{}, field string) time.Time {
	if t, ok := doc[field].(time.Time); ok {
		return t
	}
	if s, ok := doc[field].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
