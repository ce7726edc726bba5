package common

type LoaderContextKey string

const (
	ContextLogger  LoaderContextKey = "il.logger"
	ContextConfig  LoaderContextKey = "il.config"
	ContextTaskId  LoaderContextKey = "il.task_id"
	ContextPayload LoaderContextKey = "il.source"
)
