package session

// LikeState is the pair of like flags a Session tracks.
type LikeState struct {
	LikedByMe bool
	LikesMe   bool
}

// IsMatch reports a mutual like.
func IsMatch(s LikeState) bool {
	return s.LikedByMe && s.LikesMe
}
