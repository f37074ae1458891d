package outbox

const recordUpsertedSchema = `{
  "type": "object",
  "title": "RecordUpserted",
  "properties": {
    "subject_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "source": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["subject_id", "date", "source", "occurred_at"],
  "additionalProperties": false
}`

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "run_id": {"type": "string"},
    "subject_id": {"type": "string"},
    "source": {"type": "string"},
    "status": {"type": "string"},
    "missing_dates": {"type": "array", "items": {"type": "string", "format": "date"}},
    "reason": {"type": "string"},
    "completed_at": {"type": "string", "format": "date-time"}
  },
  "required": ["run_id", "subject_id", "source", "status", "completed_at"],
  "additionalProperties": false
}`
