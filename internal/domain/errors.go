package domain

import "errors"

// ErrInvalidToken возвращается, когда osu! не принимает переданный токен.
var ErrInvalidToken = errors.New("токен osu! недействителен")

// ErrAlreadyFetched возвращается, когда пользователь уже выгружен целиком.
var ErrAlreadyFetched = errors.New("пользователь уже выгружен")

// ErrAlreadyQueued возвращается, когда выгрузка пользователя уже идёт.
var ErrAlreadyQueued = errors.New("пользователь уже в очереди")

// ErrNoScore возвращается, когда у пользователя нет результата на карте.
var ErrNoScore = errors.New("результат на карте отсутствует")

// ErrUnknownMod возвращается при коде мода вне таблицы битов.
// Это дефект данных, а не штатная ситуация: выгрузка прерывается.
var ErrUnknownMod = errors.New("неизвестный код мода")
