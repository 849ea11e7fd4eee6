package ed

import "github.com/JakeFAU/ed-forum-harvester/internal/forum"

// userResponse mirrors GET /user.
type userResponse struct {
	User    *wireUser    `json:"user"`
	Courses []courseItem `json:"courses"`
}

type wireUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// courseItem accepts both a flat course and the {"course": {...}, "role": ...}
// envelope the platform returns for enrolments.
type courseItem struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Course *forum.Course `json:"course"`
}

func (c courseItem) toCourse() forum.Course {
	if c.Course != nil {
		return *c.Course
	}
	return forum.Course{ID: c.ID, Name: c.Name}
}

// threadsResponse mirrors GET /courses/{id}/threads.
type threadsResponse struct {
	Threads []forum.ThreadSummary `json:"threads"`
}

// threadResponse mirrors GET /threads/{id}?view=1.
type threadResponse struct {
	Thread struct {
		Body     string         `json:"body"`
		Document string         `json:"document"`
		Answers  []forum.Answer `json:"answers"`
	} `json:"thread"`
	Users []wireUser `json:"users"`
}

func (r threadResponse) toDetail() forum.ThreadDetail {
	body := r.Thread.Body
	if body == "" {
		body = r.Thread.Document
	}
	answers := r.Thread.Answers
	if answers == nil {
		answers = []forum.Answer{}
	}
	users := make(map[int64]string, len(r.Users))
	for _, u := range r.Users {
		users[u.ID] = u.Name
	}
	return forum.ThreadDetail{
		Body:    body,
		Answers: answers,
		Users:   users,
	}
}
