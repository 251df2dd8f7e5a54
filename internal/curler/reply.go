package curler

import "encoding/json"

// replyDoc building: Go's encoding/json sorts string map keys when
// marshaling, which is exactly the "sorted keys, 2-space indent" contract
// the reply document needs — no custom ordered encoder required.

func httpReply(handle, url string, status int, response string) map[string]any {
	reported := status
	if status >= 200 && status < 300 {
		reported = 200
	}
	return map[string]any{
		"job_handle": handle,
		"url":        url,
		"status":     reported,
		"response":   response,
	}
}

func errorReply(handle, message string, jobData []byte) map[string]any {
	return map[string]any{
		"job_handle": handle,
		"error":      message,
		"job_data":   string(jobData),
	}
}

func marshalPretty(doc map[string]any) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
