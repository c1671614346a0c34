package game

// DefaultPhotoURLs seed the pool when a session plays with default photos.
var DefaultPhotoURLs = []string{
	"https://picsum.photos/seed/famemely-cat/800/800",
	"https://picsum.photos/seed/famemely-office/800/800",
	"https://picsum.photos/seed/famemely-beach/800/800",
	"https://picsum.photos/seed/famemely-dog/800/800",
	"https://picsum.photos/seed/famemely-party/800/800",
	"https://picsum.photos/seed/famemely-kitchen/800/800",
}
