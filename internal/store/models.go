package store

import "time"

type User struct {
	ID                  string
	Email               string
	Name                string
	Role                string
	Blocked             bool
	SalesforceAccountID string
	SalesforceContactID string
	CreatedAt           time.Time
}

type Topic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Template struct {
	ID          string
	Title       string
	Description string
	ImageURL    string
	Public      bool
	Version     int
	OwnerID     string
	OwnerEmail  string
	OwnerName   string
	Topic       *Topic
	Tags        []Tag
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Question struct {
	ID            string
	TemplateID    string
	Type          string
	Title         string
	Description   string
	Order         int
	Required      bool
	ShowInResults bool
}

type AccessGrant struct {
	ID         string
	TemplateID string
	UserID     string
	UserEmail  string
	UserName   string
}

type Form struct {
	ID         string
	TemplateID string
	UserID     string
	UserEmail  string
	UserName   string
	Version    int
	Answers    []Answer
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Answer struct {
	ID         string  `json:"id"`
	FormID     string  `json:"formId"`
	QuestionID string  `json:"questionId"`
	Value      *string `json:"value"`
}

type Comment struct {
	ID         string
	TemplateID string
	UserID     string
	UserEmail  string
	UserName   string
	Body       string
	CreatedAt  time.Time
}

// QuestionAnswers pairs a question with the raw values submitted for it,
// used by the analytics aggregation.
type QuestionAnswers struct {
	Question Question
	Values   []*string
}
