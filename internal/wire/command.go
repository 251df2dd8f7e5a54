// Package wire implements the Gearman binary wire protocol: frame encoding,
// a streaming decoder, and a Session that multiplexes a single connection
// between solicited request/response pairs and unsolicited broadcast frames.
package wire

// Command is a Gearman packet type. Values are fixed by the upstream
// protocol and must match the wire exactly.
type Command uint32

const (
	CanDo            Command = 1
	CantDo           Command = 2
	PreSleep         Command = 4
	Noop             Command = 6
	SubmitJob        Command = 7
	JobCreated       Command = 8
	GrabJob          Command = 9
	NoJob            Command = 10
	JobAssign        Command = 11
	WorkStatus       Command = 12
	WorkComplete     Command = 13
	WorkFail         Command = 14
	GetStatus        Command = 15
	EchoReq          Command = 16
	EchoRes          Command = 17
	SubmitJobBG      Command = 18
	Error            Command = 19
	StatusRes        Command = 20
	SubmitJobHigh    Command = 21
	SetClientID      Command = 22
	CanDoTimeout     Command = 23
	WorkException    Command = 25
	WorkData         Command = 28
	WorkWarning      Command = 29
	SubmitJobHighBG  Command = 32
	SubmitJobLow     Command = 33
	SubmitJobLowBG   Command = 34
	JobAssignUniq    Command = 31
)

var commandNames = map[Command]string{
	CanDo:           "CAN_DO",
	CantDo:          "CANT_DO",
	PreSleep:        "PRE_SLEEP",
	Noop:            "NOOP",
	SubmitJob:       "SUBMIT_JOB",
	JobCreated:      "JOB_CREATED",
	GrabJob:         "GRAB_JOB",
	NoJob:           "NO_JOB",
	JobAssign:       "JOB_ASSIGN",
	WorkStatus:      "WORK_STATUS",
	WorkComplete:    "WORK_COMPLETE",
	WorkFail:        "WORK_FAIL",
	GetStatus:       "GET_STATUS",
	EchoReq:         "ECHO_REQ",
	EchoRes:         "ECHO_RES",
	SubmitJobBG:     "SUBMIT_JOB_BG",
	Error:           "ERROR",
	StatusRes:       "STATUS_RES",
	SubmitJobHigh:   "SUBMIT_JOB_HIGH",
	SetClientID:     "SET_CLIENT_ID",
	CanDoTimeout:    "CAN_DO_TIMEOUT",
	WorkException:   "WORK_EXCEPTION",
	WorkData:        "WORK_DATA",
	WorkWarning:     "WORK_WARNING",
	SubmitJobHighBG: "SUBMIT_JOB_HIGH_BG",
	SubmitJobLow:    "SUBMIT_JOB_LOW",
	SubmitJobLowBG:  "SUBMIT_JOB_LOW_BG",
	JobAssignUniq:   "JOB_ASSIGN_UNIQ",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// unsolicited is the fixed set of commands that bypass the pending-response
// FIFO and fan out to subscribers instead.
var unsolicited = map[Command]bool{
	WorkComplete:  true,
	WorkFail:      true,
	Noop:          true,
	WorkData:      true,
	WorkWarning:   true,
	WorkException: true,
}

// IsUnsolicited reports whether frames bearing this command bypass the FIFO.
func (c Command) IsUnsolicited() bool {
	return unsolicited[c]
}
