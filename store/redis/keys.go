package redis

// Redis key naming conventions. All keys are prefixed with
// "orchestrate:" to avoid collisions.

const keyPrefix = "orchestrate:"

// defKey returns the key for a definition: orchestrate:def:{id}
func defKey(id string) string { return keyPrefix + "def:" + id }

// defIDsKey is the Set tracking all definition IDs for enumeration.
const defIDsKey = keyPrefix + "def_ids"

// wfKey returns the key for instance-level state: orchestrate:wf:{id}
func wfKey(id string) string { return keyPrefix + "wf:" + id }

// wfIDsKey is the Set tracking all workflow instance IDs.
const wfIDsKey = keyPrefix + "wf_ids"

// taskKey returns the key for one task record:
// orchestrate:task:{workflowID}:{taskDefID}
func taskKey(wfID, taskDefID string) string {
	return keyPrefix + "task:" + wfID + ":" + taskDefID
}

// taskIdxKey returns the Set of task definition IDs for a workflow.
func taskIdxKey(wfID string) string { return keyPrefix + "task_idx:" + wfID }

// attemptsKey returns the List of attempt records for one task.
func attemptsKey(wfID, taskDefID string) string {
	return keyPrefix + "attempts:" + wfID + ":" + taskDefID
}

// idemKey returns the key for an idempotent result.
func idemKey(key string) string { return keyPrefix + "idem:" + key }
