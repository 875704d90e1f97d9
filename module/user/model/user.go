package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const CollectionUsers = "users"

// User 用户主档。这里只映射在线状态与好友列表需要的字段，其余字段由资料接口维护。
type User struct {
	ID                primitive.ObjectID   `bson:"_id" json:"_id"`
	Email             string               `bson:"email" json:"email"`
	Password          string               `bson:"password,omitempty" json:"-"`
	Name              string               `bson:"name" json:"name"`
	FirstName         string               `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName          string               `bson:"lastName,omitempty" json:"lastName,omitempty"`
	ProfilePicture    string               `bson:"profilePicture,omitempty" json:"profilePicture,omitempty"`
	BackgroundPicture string               `bson:"backgroundPicture,omitempty" json:"backgroundPicture,omitempty"`
	Status            string               `bson:"status" json:"status"` // online/offline，展示用，允许滞后
	UniversityName    string               `bson:"universityName,omitempty" json:"universityName,omitempty"`
	Major             string               `bson:"major,omitempty" json:"major,omitempty"`
	Country           string               `bson:"country,omitempty" json:"country,omitempty"`
	Friends           []primitive.ObjectID `bson:"friends" json:"friends"`
	FriendsCount      int                  `bson:"friendsCount" json:"friendsCount"`
}

func (u *User) UserID() string { return u.ID.Hex() }

func (u *User) IsFriend(id primitive.ObjectID) bool {
	for _, f := range u.Friends {
		if f == id {
			return true
		}
	}
	return false
}
