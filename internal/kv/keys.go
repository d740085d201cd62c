package kv

// Shared keys.
const (
	KeyUsers          = "adminUsers"
	KeyModules        = "adminModuleList"
	KeyLessonContent  = "adminLessonContent"
	KeyModuleTests    = "adminModuleTests"
	KeyAgentQuestions = "aiAgentQuestions"
)

// Session flags.
const (
	KeyIsLoggedIn = "isLoggedIn"
	KeyRole       = "role"
	KeyUserName   = "userName"
	KeyUserEmail  = "userEmail"
)

// UserKey is the learner's own snapshot of their User record.
func UserKey(name string) string { return "user_" + name }

// ChatKey holds "true"/"false" for the assistant chat visibility.
func ChatKey(name string) string { return "showAIChat_" + name }

// AgentDataKey holds the learner's questionnaire answers.
func AgentDataKey(name string) string { return "aiAgentData_" + name }

// PerUserKeys lists every key owned by a single learner.
func PerUserKeys(name string) []string {
	return []string{UserKey(name), ChatKey(name), AgentDataKey(name)}
}
