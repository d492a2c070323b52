// Package models defines state management structures for KolpingBot dialogs.
package models

import "time"

// DialogAction names a multi-step flow. Only registration exists today.
type DialogAction string

const (
	// DialogActionRegistration collects a registration for the holiday programme.
	DialogActionRegistration DialogAction = "registration"
)

// DialogStep is the position inside a flow.
type DialogStep string

const (
	StepFirstName DialogStep = "first_name"
	StepLastName  DialogStep = "last_name"
	StepAge       DialogStep = "age"
	StepFinished  DialogStep = "finished"
)

// Swimmer is a tri-state answer to "can the child swim?".
type Swimmer string

const (
	SwimmerUnknown Swimmer = ""
	SwimmerYes     Swimmer = "yes"
	SwimmerNo      Swimmer = "no"
)

// DialogState is the persisted form of an unfinished flow for one user.
// A record exists for a user iff that user has an unfinished flow.
type DialogState struct {
	UserID    string       `json:"user_id" dynamodbav:"user_id"`
	Action    DialogAction `json:"action" dynamodbav:"action"`
	Step      DialogStep   `json:"step" dynamodbav:"step"`
	FirstName string       `json:"first_name,omitempty" dynamodbav:"first_name,omitempty"`
	LastName  string       `json:"last_name,omitempty" dynamodbav:"last_name,omitempty"`
	Age       string       `json:"age,omitempty" dynamodbav:"age,omitempty"`
	Swimmer   Swimmer      `json:"swimmer,omitempty" dynamodbav:"swimmer,omitempty"`
	CreatedAt time.Time    `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" dynamodbav:"updated_at"`
}

// Registration is a completed registration handed to the registration repository.
type Registration struct {
	UserID       string    `json:"user_id"`
	Channel      Channel   `json:"channel"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Age          string    `json:"age"`
	Swimmer      Swimmer   `json:"swimmer"`
	RegisteredAt time.Time `json:"registered_at"`
}
