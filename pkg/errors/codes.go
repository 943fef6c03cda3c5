package errors

// ErrorCodeInfo documents a code for operators: whether a retry can help and
// what to do about it.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry holds an entry for every ErrorCode.
var ErrorCodeRegistry = registry(
	ErrorCodeInfo{ErrTimeout, true,
		"An engine or tool call exceeded its time limit",
		"Raise the limit: turnscribe config set timeout 20m"},
	ErrorCodeInfo{ErrContextCancelled, false,
		"Run cancelled by user or system",
		"Re-run the command if the cancellation was not intentional"},
	ErrorCodeInfo{ErrEngineUnavailable, true,
		"Recognition or diarization engine unreachable",
		"Check the engine endpoint: turnscribe health"},
	ErrorCodeInfo{ErrToolMissing, false,
		"A required executable (ffmpeg or an engine command) was not found",
		"Install the tool or point at it: turnscribe config set ffmpeg_path /usr/bin/ffmpeg"},
	ErrorCodeInfo{ErrParseError, false,
		"Engine output could not be parsed",
		"Run the engine by hand and inspect its JSON output"},
	ErrorCodeInfo{ErrEmptyInput, false,
		"The submitted recording is empty",
		"Check the input file"},
	ErrorCodeInfo{ErrStorage, false,
		"Scratch or session storage could not be written",
		"Check permissions and free space under scratch_dir and sessions_root"},
	ErrorCodeInfo{ErrProcessingError, false,
		"Unclassified processing failure",
		"Re-run with --debug and inspect the log"},
)

func registry(infos ...ErrorCodeInfo) map[ErrorCode]ErrorCodeInfo {
	m := make(map[ErrorCode]ErrorCodeInfo, len(infos))
	for _, info := range infos {
		m[info.Code] = info
	}
	return m
}

// Describe looks up code, falling back to the processing_error entry.
func Describe(code ErrorCode) ErrorCodeInfo {
	info, ok := ErrorCodeRegistry[code]
	if !ok {
		return ErrorCodeRegistry[ErrProcessingError]
	}
	return info
}
